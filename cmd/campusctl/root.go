package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/campustrust/governance/internal/config"
	"github.com/campustrust/governance/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries state shared by every subcommand
type cli struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New()}
	// keep stdout for command output unless asked otherwise
	c.v.SetDefault("log.level", "WARN")

	rootCmd := &cobra.Command{
		Use:   "campusctl",
		Short: "Offline tools for the campus governance service",
		Long: `campusctl runs the governance engine without the HTTP service.

It scores attendance records, evaluates subsystem payloads against the
default rule catalogue, lints rule definitions and hashes content the
same way the service does before anchoring it on-chain.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(c.v, c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg

			level, err := logger.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			logger.SetLevel(level)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", os.Getenv("CAMPUS_CONFIG"), "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", "WARN", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("timezone", "UTC", "Timezone used to read check-in hours")
	c.v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	c.v.BindPFlag("anomaly.timezone", rootCmd.PersistentFlags().Lookup("timezone"))

	rootCmd.AddCommand(
		c.newAnalyzeCmd(),
		c.newEvaluateCmd(),
		c.newRulesCmd(),
		c.newHashCmd(),
	)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("campusctl version %s\n", rootCmd.Version))

	return rootCmd
}

// readInput reads a file argument, or stdin for "-"
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
