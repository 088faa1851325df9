package campus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campustrust/governance/rules"
)

// Governance subsystems accepted by Process
const (
	ModuleVoting     = "voting"
	ModuleFeedback   = "feedback"
	ModuleAttendance = "attendance"
	ModuleCredential = "credential"
)

// DashboardRecent is the number of log entries returned by Dashboard
const DashboardRecent = 20

const defaultAvgSentiment = 50

// ErrUnknownModule is returned by Process for an unrecognised subsystem name
var ErrUnknownModule = errors.New("unknown module")

// VotingData is merged verbatim into the evaluation context.
// end_time, when present, is compared against the current time.
type VotingData map[string]any

// FeedbackData carries the feedback subsystem counters
type FeedbackData struct {
	TotalFeedback *float64 `json:"total_feedback"`
	AvgSentiment  *float64 `json:"avg_sentiment"`
}

// AttendanceData carries the latest anomaly score and the session deadline
type AttendanceData struct {
	RiskScore  *float64 `json:"risk_score"`
	SessionEnd *float64 `json:"session_end"`
}

// CredentialData reports whether a course has been completed
type CredentialData struct {
	CourseCompleted bool `json:"course_completed"`
}

// Dashboard is a read-only view of the engine
type Dashboard struct {
	Rules            []rules.RuleStatus `json:"rules"`
	RecentExecutions []rules.LogEntry   `json:"recent_executions"`
	TotalRules       int                `json:"total_rules"`
	ActiveRules      int                `json:"active_rules"`
}

// Automation owns a rules engine preloaded with the default catalogue
// and translates subsystem payloads into evaluation contexts.
type Automation struct {
	engine *rules.Engine
	now    func() time.Time
	logger *slog.Logger
}

type options struct {
	now        func() time.Time
	logger     *slog.Logger
	engineOpts []rules.Option
	skipRules  bool
}

// Option configures an Automation
type Option func(*options)

// WithClock sets the clock used for current_time and deadline checks
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger shared with the engine
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEngineOptions passes extra options to the underlying engine
func WithEngineOptions(opts ...rules.Option) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// WithoutDefaultRules starts with an empty engine
func WithoutDefaultRules() Option {
	return func(o *options) {
		o.skipRules = true
	}
}

// NewAutomation creates an engine and registers DefaultRules in order
func NewAutomation(opts ...Option) (*Automation, error) {
	o := options{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	engineOpts := append([]rules.Option{rules.WithClock(o.now), rules.WithLogger(o.logger)}, o.engineOpts...)
	engine, err := rules.NewEngine(engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create rules engine: %w", err)
	}

	if !o.skipRules {
		for _, spec := range DefaultRules() {
			engine.AddRule(spec)
		}
	}

	o.logger.Info("automation engine ready",
		"rules", engine.Len(),
		"active", engine.ActiveCount())

	return &Automation{
		engine: engine,
		now:    o.now,
		logger: o.logger,
	}, nil
}

// Engine exposes the underlying engine for rule management
func (a *Automation) Engine() *rules.Engine {
	return a.engine
}

func (a *Automation) baseContext(now time.Time) rules.Context {
	return rules.Context{
		rules.KeyCurrentTime: unixSeconds(now),
		rules.KeyEvents:      []string{},
	}
}

// ProcessVotingEvents raises election_time_expired once end_time has passed.
// A missing end_time counts as 0.
func (a *Automation) ProcessVotingEvents(data VotingData) []rules.TriggeredAction {
	now := a.now()
	ctx := a.baseContext(now)
	for k, v := range data {
		ctx[k] = v
	}

	endTime, ok := 0.0, true
	if v, present := data["end_time"]; present {
		endTime, ok = rules.ToFloat(v)
	}
	if ok && endTime <= unixSeconds(now) {
		ctx.AddEvent(EventElectionTimeExpired)
	}

	return a.evaluate(ModuleVoting, ctx)
}

// ProcessFeedbackEvents maps total_feedback to feedback_count and
// passes avg_sentiment through, defaulting it to 50.
func (a *Automation) ProcessFeedbackEvents(data FeedbackData) []rules.TriggeredAction {
	ctx := a.baseContext(a.now())
	ctx[FieldFeedbackCount] = valueOr(data.TotalFeedback, 0)
	ctx[FieldAvgSentiment] = valueOr(data.AvgSentiment, defaultAvgSentiment)

	return a.evaluate(ModuleFeedback, ctx)
}

// ProcessAttendanceEvents maps risk_score to anomaly_risk_score and raises
// session_time_expired once session_end has passed.
func (a *Automation) ProcessAttendanceEvents(data AttendanceData) []rules.TriggeredAction {
	now := a.now()
	ctx := a.baseContext(now)
	ctx[FieldAnomalyRiskScore] = valueOr(data.RiskScore, 0)

	if valueOr(data.SessionEnd, 0) <= unixSeconds(now) {
		ctx.AddEvent(EventSessionTimeExpired)
	}

	return a.evaluate(ModuleAttendance, ctx)
}

// ProcessCredentialEvents raises course_completed when the flag is set
func (a *Automation) ProcessCredentialEvents(data CredentialData) []rules.TriggeredAction {
	ctx := a.baseContext(a.now())
	if data.CourseCompleted {
		ctx.AddEvent(EventCourseCompleted)
	}

	return a.evaluate(ModuleCredential, ctx)
}

// Process decodes raw as the named module's payload and runs its adapter.
// Empty raw is treated as an empty object.
func (a *Automation) Process(module string, raw json.RawMessage) ([]rules.TriggeredAction, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}

	switch module {
	case ModuleVoting:
		var data VotingData
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&data); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", module, err)
		}
		return a.ProcessVotingEvents(data), nil
	case ModuleFeedback:
		var data FeedbackData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", module, err)
		}
		return a.ProcessFeedbackEvents(data), nil
	case ModuleAttendance:
		var data AttendanceData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", module, err)
		}
		return a.ProcessAttendanceEvents(data), nil
	case ModuleCredential:
		var data CredentialData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", module, err)
		}
		return a.ProcessCredentialEvents(data), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, module)
	}
}

// Evaluate runs the engine against a copy of a caller-built context,
// stamping current_time when it is absent.
func (a *Automation) Evaluate(ctx rules.Context) []rules.TriggeredAction {
	evalCtx := make(rules.Context, len(ctx)+1)
	for k, v := range ctx {
		evalCtx[k] = v
	}
	if _, ok := evalCtx[rules.KeyCurrentTime]; !ok {
		evalCtx[rules.KeyCurrentTime] = unixSeconds(a.now())
	}
	return a.evaluate("context", evalCtx)
}

// Dashboard reports rule status, the 20 most recent executions and rule counts
func (a *Automation) Dashboard() Dashboard {
	o := a.engine.Overview(DashboardRecent)
	return Dashboard{
		Rules:            o.Rules,
		RecentExecutions: o.RecentExecutions,
		TotalRules:       o.TotalRules,
		ActiveRules:      o.ActiveRules,
	}
}

func (a *Automation) evaluate(source string, ctx rules.Context) []rules.TriggeredAction {
	triggered := a.engine.EvaluateRules(ctx)
	if len(triggered) > 0 {
		names := make([]string, len(triggered))
		for i, t := range triggered {
			names[i] = t.RuleName
		}
		a.logger.Info("automation rules triggered",
			"source", source,
			"count", len(triggered),
			"rules", names)
	}
	return triggered
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
