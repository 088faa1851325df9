package rules

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// DefaultLogLimit is the number of entries ExecutionLog returns when no limit is given
const DefaultLogLimit = 50

// Engine holds an ordered rule collection and an append-only execution log.
// AddRule, EvaluateRules and SetEnabled are serialised by a write lock;
// read-only projections share a read lock.
type Engine struct {
	env      *cel.Env
	rules    []*Rule
	programs map[int]cel.Program // rule index -> compiled expression
	log      []LogEntry
	logLimit int
	now      func() time.Time
	logger   *slog.Logger
	mu       sync.RWMutex
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the wall clock used for trigger timestamps
func WithClock(now func() time.Time) Option {
	return func(en *Engine) {
		if now != nil {
			en.now = now
		}
	}
}

// WithLogger sets the logger used for engine diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(en *Engine) {
		if logger != nil {
			en.logger = logger
		}
	}
}

// WithLogLimit caps the execution log at n entries, dropping the oldest.
// Zero keeps every entry.
func WithLogLimit(n int) Option {
	return func(en *Engine) {
		if n >= 0 {
			en.logLimit = n
		}
	}
}

// NewEngine creates an engine with no rules
func NewEngine(opts ...Option) (*Engine, error) {
	env, err := newExpressionEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	en := &Engine{
		env:      env,
		programs: make(map[int]cel.Program),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(en)
	}
	return en, nil
}

// AddRule appends a rule and returns its zero-based index.
// The rule is not validated; a rule that cannot fire is kept but stays inert.
func (en *Engine) AddRule(spec RuleSpec) int {
	enabled := true
	if spec.Enabled != nil {
		enabled = *spec.Enabled
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	index := len(en.rules)
	en.rules = append(en.rules, &Rule{
		Name:        spec.Name,
		Description: spec.Description,
		Trigger:     spec.Trigger,
		Action:      spec.Action,
		Enabled:     enabled,
	})

	if expr, ok := spec.Trigger.(ExpressionTrigger); ok {
		prog, err := en.compileExpression(expr.Expression)
		if err != nil {
			en.logger.Warn("expression rule will never fire", "rule", spec.Name, "error", err)
		} else {
			en.programs[index] = prog
		}
	}

	return index
}

// EvaluateRules checks every enabled rule against ctx in collection order and
// returns the actions of the rules that fired. The clock is read once, so
// every rule in a call sees the same current time.
func (en *Engine) EvaluateRules(ctx Context) []TriggeredAction {
	en.mu.Lock()
	defer en.mu.Unlock()

	now := en.now()
	triggered := make([]TriggeredAction, 0)

	for i, rule := range en.rules {
		if !rule.Enabled {
			continue
		}
		if !en.shouldTrigger(i, rule, ctx, now) {
			continue
		}

		triggered = append(triggered, TriggeredAction{
			RuleIndex:   i,
			RuleName:    rule.Name,
			Action:      rule.Action,
			TriggeredAt: now,
		})

		executedAt := now
		rule.LastExecuted = &executedAt
		en.appendLog(LogEntry{
			Rule:      rule.Name,
			Timestamp: now,
			Context:   ctx.snapshot(),
		})
	}

	if len(triggered) > 0 {
		en.logger.Debug("automation rules triggered", "count", len(triggered))
	}

	return triggered
}

// appendLog must be called with the write lock held. Storage is trimmed
// back to logLimit only once it reaches twice that, so appends stay
// amortised O(1); readers never see more than logLimit entries.
func (en *Engine) appendLog(entry LogEntry) {
	en.log = append(en.log, entry)
	if en.logLimit > 0 && len(en.log) >= 2*en.logLimit {
		en.log = append(make([]LogEntry, 0, 2*en.logLimit), en.retained()...)
	}
}

// retained returns the entries inside the log limit. Callers hold a lock.
func (en *Engine) retained() []LogEntry {
	if en.logLimit > 0 && len(en.log) > en.logLimit {
		return en.log[len(en.log)-en.logLimit:]
	}
	return en.log
}

// logTail copies the most recent limit entries. Callers hold a lock.
func (en *Engine) logTail(limit int) []LogEntry {
	log := en.retained()
	if len(log) > limit {
		log = log[len(log)-limit:]
	}
	out := make([]LogEntry, len(log))
	copy(out, log)
	return out
}

// ExecutionLog returns the most recent limit entries, oldest first.
// A limit of zero or less returns DefaultLogLimit entries.
func (en *Engine) ExecutionLog(limit int) []LogEntry {
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	en.mu.RLock()
	defer en.mu.RUnlock()
	return en.logTail(limit)
}

// RulesStatus returns name, trigger kind, enabled flag and last execution of every rule
func (en *Engine) RulesStatus() []RuleStatus {
	en.mu.RLock()
	defer en.mu.RUnlock()
	return en.rulesStatus()
}

func (en *Engine) rulesStatus() []RuleStatus {
	status := make([]RuleStatus, 0, len(en.rules))
	for _, r := range en.rules {
		var last *time.Time
		if r.LastExecuted != nil {
			t := *r.LastExecuted
			last = &t
		}
		status = append(status, RuleStatus{
			Name:         r.Name,
			Trigger:      triggerKind(r.Trigger),
			Enabled:      r.Enabled,
			LastExecuted: last,
		})
	}
	return status
}

// Overview is a consistent view of the rules and recent log, taken under one lock
type Overview struct {
	Rules            []RuleStatus
	RecentExecutions []LogEntry
	TotalRules       int
	ActiveRules      int
}

// Overview captures rule status, counts and the last recent log entries together.
// A recent of zero or less uses DefaultLogLimit.
func (en *Engine) Overview(recent int) Overview {
	if recent <= 0 {
		recent = DefaultLogLimit
	}

	en.mu.RLock()
	defer en.mu.RUnlock()

	status := en.rulesStatus()
	active := 0
	for _, s := range status {
		if s.Enabled {
			active++
		}
	}
	return Overview{
		Rules:            status,
		RecentExecutions: en.logTail(recent),
		TotalRules:       len(status),
		ActiveRules:      active,
	}
}

// SetEnabled enables or disables the first rule called name.
// Returns false if no such rule exists.
func (en *Engine) SetEnabled(name string, enabled bool) bool {
	en.mu.Lock()
	defer en.mu.Unlock()

	for _, r := range en.rules {
		if r.Name == name {
			r.Enabled = enabled
			return true
		}
	}
	return false
}

// Len returns the number of rules
func (en *Engine) Len() int {
	en.mu.RLock()
	defer en.mu.RUnlock()
	return len(en.rules)
}

// ActiveCount returns the number of enabled rules
func (en *Engine) ActiveCount() int {
	en.mu.RLock()
	defer en.mu.RUnlock()

	n := 0
	for _, r := range en.rules {
		if r.Enabled {
			n++
		}
	}
	return n
}
