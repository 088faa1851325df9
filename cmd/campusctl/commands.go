package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/campustrust/governance/anomaly"
	"github.com/campustrust/governance/campus"
	"github.com/campustrust/governance/contenthash"
	"github.com/campustrust/governance/internal/logger"
	"github.com/campustrust/governance/rules"
	"github.com/spf13/cobra"
)

func (c *cli) detector() (*anomaly.Detector, error) {
	loc, err := c.cfg.Anomaly.Location()
	if err != nil {
		return nil, err
	}
	return anomaly.NewDetector(anomaly.WithLocation(loc), anomaly.WithLogger(logger.Logger)), nil
}

func (c *cli) newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score attendance records for anomalies",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "student FILE",
		Short: "Score one student record (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var record anomaly.Record
			if err := json.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("invalid student record: %w", err)
			}

			d, err := c.detector()
			if err != nil {
				return err
			}
			return printJSON(cmd, d.AnalyzeStudent(record))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "class FILE",
		Short: "Score a JSON array of student records (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var records []anomaly.Record
			if err := json.Unmarshal(data, &records); err != nil {
				return fmt.Errorf("invalid class records: %w", err)
			}

			d, err := c.detector()
			if err != nil {
				return err
			}
			return printJSON(cmd, d.AnalyzeClass(records))
		},
	})

	return cmd
}

func (c *cli) newEvaluateCmd() *cobra.Command {
	var dataFile string

	cmd := &cobra.Command{
		Use:   "evaluate MODULE [DATA]",
		Short: "Run a subsystem payload through the default rules",
		Long: `Run a voting, feedback, attendance or credential payload through the
default rule catalogue and print the actions that would fire.

DATA is a JSON object given inline or through --file.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			switch {
			case dataFile != "":
				data, err := readInput(cmd, dataFile)
				if err != nil {
					return err
				}
				raw = data
			case len(args) == 2:
				raw = []byte(args[1])
			}

			automation, err := campus.NewAutomation(
				campus.WithLogger(logger.Logger),
				campus.WithEngineOptions(rules.WithLogLimit(c.cfg.Engine.LogLimit)),
			)
			if err != nil {
				return err
			}

			triggered, err := automation.Process(args[0], raw)
			if err != nil {
				return err
			}
			return printJSON(cmd, triggered)
		},
	}
	cmd.Flags().StringVarP(&dataFile, "file", "f", "", "Read the payload from a file (- for stdin)")

	return cmd
}

func (c *cli) newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and lint automation rules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the default rule catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, campus.DefaultRules())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "lint FILE",
		Short: "Check rule definitions against the default catalogue",
		Long: `Lint a JSON rule object, or an array of them, as if each were added
after the default catalogue. Exits non-zero when any issue is found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			specs, err := decodeSpecs(data)
			if err != nil {
				return err
			}

			automation, err := campus.NewAutomation(campus.WithLogger(logger.Logger))
			if err != nil {
				return err
			}
			engine := automation.Engine()

			var issues []rules.Issue
			for _, spec := range specs {
				issues = append(issues, engine.Lint(spec)...)
				engine.AddRule(spec)
			}

			for _, issue := range issues {
				fmt.Fprintln(cmd.OutOrStdout(), issue.String())
			}
			if len(issues) > 0 {
				return fmt.Errorf("%d issue(s) found in %d rule(s)", len(issues), len(specs))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rule(s) ok\n", len(specs))
			return nil
		},
	})

	return cmd
}

// decodeSpecs accepts a single rule object or an array of them
func decodeSpecs(data []byte) ([]rules.RuleSpec, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var specs []rules.RuleSpec
		if err := json.Unmarshal(data, &specs); err != nil {
			return nil, fmt.Errorf("invalid rules: %w", err)
		}
		return specs, nil
	}

	var spec rules.RuleSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}
	return []rules.RuleSpec{spec}, nil
}

func (c *cli) newHashCmd() *cobra.Command {
	var file string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "hash [TEXT]",
		Short: "Print the SHA-256 content hash used for on-chain anchoring",
		Long: `Hash TEXT, or the contents of --file, as a lowercase hex SHA-256 digest.

With --json the input is parsed as JSON and canonicalised first, so key
order and number formatting do not change the digest.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var input []byte
			switch {
			case file != "":
				data, err := readInput(cmd, file)
				if err != nil {
					return err
				}
				input = data
			case len(args) == 1:
				input = []byte(args[0])
			default:
				return fmt.Errorf("nothing to hash: pass TEXT or --file")
			}

			var digest string
			if asJSON {
				h, err := contenthash.Hash(json.RawMessage(input))
				if err != nil {
					return err
				}
				digest = h
			} else {
				digest = contenthash.HashString(string(input))
			}

			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Hash the contents of a file (- for stdin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Canonicalise the input as JSON before hashing")

	return cmd
}
