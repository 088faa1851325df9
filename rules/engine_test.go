package rules

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	engine, err := NewEngine(opts...)
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return engine
}

func boolPtr(b bool) *bool { return &b }

func TestNewEngine(t *testing.T) {
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	if engine == nil {
		t.Fatal("NewEngine() should return non-nil engine")
	}
	if engine.Len() != 0 {
		t.Errorf("new engine has %d rules, want 0", engine.Len())
	}
}

func TestAddRuleReturnsIndex(t *testing.T) {
	engine := newTestEngine(t)

	for want := 0; want < 3; want++ {
		got := engine.AddRule(RuleSpec{Name: fmt.Sprintf("rule_%d", want), Trigger: EventTrigger{Event: "x"}})
		if got != want {
			t.Errorf("AddRule() = %d, want %d", got, want)
		}
	}
}

func TestAddRuleDefaults(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{Name: "defaulted", Trigger: EventTrigger{Event: "x"}})
	engine.AddRule(RuleSpec{Name: "disabled", Trigger: EventTrigger{Event: "x"}, Enabled: boolPtr(false)})

	status := engine.RulesStatus()
	if !status[0].Enabled {
		t.Error("rule without Enabled should default to enabled")
	}
	if status[0].LastExecuted != nil {
		t.Error("new rule should have no LastExecuted")
	}
	if status[1].Enabled {
		t.Error("explicitly disabled rule should stay disabled")
	}
}

func TestEvaluateRulesEmptyEngine(t *testing.T) {
	engine := newTestEngine(t)

	contexts := []Context{
		nil,
		{},
		{"feedback_count": 100, "events": []string{"course_completed"}},
	}
	for _, ctx := range contexts {
		got := engine.EvaluateRules(ctx)
		if got == nil || len(got) != 0 {
			t.Errorf("EvaluateRules(%v) = %v, want empty list", ctx, got)
		}
	}
	if log := engine.ExecutionLog(0); len(log) != 0 {
		t.Errorf("execution log has %d entries, want 0", len(log))
	}
}

func TestThresholdOperators(t *testing.T) {
	testCases := []struct {
		name     string
		operator Operator
		value    any
		want     bool
	}{
		{">= equal", OpGreaterOrEqual, 50, true},
		{">= above", OpGreaterOrEqual, 51, true},
		{">= below", OpGreaterOrEqual, 49, false},
		{"default operator", "", 50, true},
		{"<= below", OpLessOrEqual, 30, true},
		{"<= above", OpLessOrEqual, 60, false},
		{"== equal", OpEqual, 50.0, true},
		{"== differs", OpEqual, 50.5, false},
		{"> equal", OpGreater, 50, false},
		{"> above", OpGreater, 50.1, true},
		{"unknown operator", Operator("!="), 10, false},
		{"bool coerces to 1", OpEqual, true, false},
		{"string never fires", OpGreaterOrEqual, "99", false},
		{"nil never fires", OpGreaterOrEqual, nil, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine := newTestEngine(t)
			engine.AddRule(RuleSpec{
				Name:    "threshold",
				Trigger: ThresholdTrigger{Field: "x", Operator: tc.operator, Value: 50},
				Action:  NotificationAction{Message: "hit"},
			})

			got := engine.EvaluateRules(Context{"x": tc.value})
			if fired := len(got) == 1; fired != tc.want {
				t.Errorf("x=%v %s 50 fired=%v, want %v", tc.value, tc.operator, fired, tc.want)
			}
		})
	}
}

func TestThresholdMissingFieldDefaultsToZero(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{Name: "high", Trigger: ThresholdTrigger{Field: "x", Operator: OpGreaterOrEqual, Value: 50}})
	engine.AddRule(RuleSpec{Name: "low", Trigger: ThresholdTrigger{Field: "x", Operator: OpLessOrEqual, Value: 0}})

	got := engine.EvaluateRules(Context{"y": 100})
	if len(got) != 1 || got[0].RuleName != "low" {
		t.Fatalf("EvaluateRules() = %+v, want only the <= 0 rule", got)
	}
}

func TestDisabledRuleNeverFires(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{
		Name:    "disabled",
		Trigger: EventTrigger{Event: "go"},
		Enabled: boolPtr(false),
	})

	for i := 0; i < 3; i++ {
		if got := engine.EvaluateRules(Context{"events": []string{"go"}}); len(got) != 0 {
			t.Fatalf("disabled rule fired: %+v", got)
		}
	}
	if status := engine.RulesStatus(); status[0].LastExecuted != nil {
		t.Error("disabled rule should never get LastExecuted")
	}
}

func TestEventRuleFiresEveryCall(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{Name: "completed", Trigger: EventTrigger{Event: "course_completed"}})

	ctx := Context{"events": []string{"course_completed"}}
	for i := 0; i < 2; i++ {
		if got := engine.EvaluateRules(ctx); len(got) != 1 {
			t.Fatalf("call %d: got %d actions, want 1", i, len(got))
		}
	}
	if got := engine.EvaluateRules(Context{}); len(got) != 0 {
		t.Errorf("rule fired without event: %+v", got)
	}
	if n := len(engine.ExecutionLog(0)); n != 2 {
		t.Errorf("execution log has %d entries, want 2", n)
	}
}

func TestEventShapes(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{Name: "ev", Trigger: EventTrigger{Event: "a"}})

	testCases := []struct {
		name   string
		events any
		want   bool
	}{
		{"string slice", []string{"b", "a"}, true},
		{"any slice", []any{"a"}, true},
		{"set", map[string]bool{"a": true}, true},
		{"struct set", map[string]struct{}{"a": {}}, true},
		{"missing", nil, false},
		{"wrong type", "a", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := engine.EvaluateRules(Context{"events": tc.events})
			if fired := len(got) == 1; fired != tc.want {
				t.Errorf("fired=%v, want %v", fired, tc.want)
			}
		})
	}
}

func TestTimeTrigger(t *testing.T) {
	target := float64(fixedNow.Unix())

	testCases := []struct {
		name string
		ctx  Context
		want bool
	}{
		{"context time after target", Context{"current_time": target + 1}, true},
		{"context time equal target", Context{"current_time": int64(target)}, true},
		{"context time before target", Context{"current_time": target - 1}, false},
		{"falls back to clock", Context{}, true},
		{"non-numeric time", Context{"current_time": "later"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine := newTestEngine(t)
			engine.AddRule(RuleSpec{Name: "deadline", Trigger: TimeTrigger{Timestamp: target}})
			if fired := len(engine.EvaluateRules(tc.ctx)) == 1; fired != tc.want {
				t.Errorf("fired=%v, want %v", fired, tc.want)
			}
		})
	}

	t.Run("clock before target", func(t *testing.T) {
		engine := newTestEngine(t)
		engine.AddRule(RuleSpec{Name: "future", Trigger: TimeTrigger{Timestamp: target + 3600}})
		if got := engine.EvaluateRules(Context{}); len(got) != 0 {
			t.Errorf("future deadline fired: %+v", got)
		}
	})
}

func TestUnknownTriggerNeverFires(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{Name: "inert", Trigger: InertTrigger{Name: "cron", Reason: "unknown"}})
	engine.AddRule(RuleSpec{Name: "nil trigger"})

	got := engine.EvaluateRules(Context{"events": []string{"cron"}, "current_time": 1e12})
	if len(got) != 0 {
		t.Errorf("inert rules fired: %+v", got)
	}

	status := engine.RulesStatus()
	if status[0].Trigger != "cron" {
		t.Errorf("status trigger = %q, want cron", status[0].Trigger)
	}
}

func TestTriggeredActionsInCollectionOrder(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{Name: "first", Trigger: ThresholdTrigger{Field: "n", Value: 1}, Action: ContractCallAction{Contract: "voting", Method: "finalize"}})
	engine.AddRule(RuleSpec{Name: "skipped", Trigger: EventTrigger{Event: "never"}})
	engine.AddRule(RuleSpec{Name: "third", Trigger: TimeTrigger{Timestamp: 0}, Action: NotificationAction{Message: "m"}})

	got := engine.EvaluateRules(Context{"n": 5})
	if len(got) != 2 {
		t.Fatalf("got %d actions, want 2", len(got))
	}

	if got[0].RuleIndex != 0 || got[0].RuleName != "first" {
		t.Errorf("got[0] = %+v, want rule 0 first", got[0])
	}
	if got[1].RuleIndex != 2 || got[1].RuleName != "third" {
		t.Errorf("got[1] = %+v, want rule 2 third", got[1])
	}
	if action, ok := got[0].Action.(ContractCallAction); !ok || action.Method != "finalize" {
		t.Errorf("action payload not preserved: %#v", got[0].Action)
	}
	for _, a := range got {
		if !a.TriggeredAt.Equal(fixedNow) {
			t.Errorf("TriggeredAt = %v, want %v", a.TriggeredAt, fixedNow)
		}
	}
}

func TestLastExecutedOnlyOnTrigger(t *testing.T) {
	now := fixedNow
	engine := newTestEngine(t, WithClock(func() time.Time { return now }))
	engine.AddRule(RuleSpec{Name: "count", Trigger: ThresholdTrigger{Field: "n", Value: 10}})

	engine.EvaluateRules(Context{"n": 1})
	if engine.RulesStatus()[0].LastExecuted != nil {
		t.Fatal("LastExecuted set without trigger")
	}

	engine.EvaluateRules(Context{"n": 10})
	first := engine.RulesStatus()[0].LastExecuted
	if first == nil || !first.Equal(fixedNow) {
		t.Fatalf("LastExecuted = %v, want %v", first, fixedNow)
	}

	now = fixedNow.Add(time.Minute)
	engine.EvaluateRules(Context{"n": 1})
	if got := engine.RulesStatus()[0].LastExecuted; !got.Equal(fixedNow) {
		t.Errorf("LastExecuted moved to %v without trigger", got)
	}
}

func TestExecutionLogSnapshotExcludesEvents(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{Name: "ev", Trigger: EventTrigger{Event: "a"}})

	ctx := Context{"events": []string{"a"}, "feedback_count": 3}
	engine.EvaluateRules(ctx)

	log := engine.ExecutionLog(10)
	if len(log) != 1 {
		t.Fatalf("log has %d entries, want 1", len(log))
	}
	if _, ok := log[0].Context["events"]; ok {
		t.Error("snapshot should not contain events")
	}
	if log[0].Context["feedback_count"] != 3 {
		t.Errorf("snapshot feedback_count = %v, want 3", log[0].Context["feedback_count"])
	}
	if _, ok := ctx["events"]; !ok {
		t.Error("caller context must not be modified")
	}
	if log[0].Rule != "ev" || !log[0].Timestamp.Equal(fixedNow) {
		t.Errorf("unexpected log entry %+v", log[0])
	}
}

func TestExecutionLogLimit(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{Name: "always", Trigger: TimeTrigger{}})

	for i := 0; i < 60; i++ {
		engine.EvaluateRules(Context{"i": i})
	}

	if n := len(engine.ExecutionLog(0)); n != DefaultLogLimit {
		t.Errorf("default limit returned %d entries, want %d", n, DefaultLogLimit)
	}

	tail := engine.ExecutionLog(3)
	if len(tail) != 3 {
		t.Fatalf("got %d entries, want 3", len(tail))
	}
	for i, entry := range tail {
		if want := 57 + i; entry.Context["i"] != want {
			t.Errorf("tail[%d] i = %v, want %d", i, entry.Context["i"], want)
		}
	}

	if n := len(engine.ExecutionLog(1000)); n != 60 {
		t.Errorf("large limit returned %d entries, want 60", n)
	}
}

func TestWithLogLimitDropsOldest(t *testing.T) {
	engine := newTestEngine(t, WithLogLimit(5))
	engine.AddRule(RuleSpec{Name: "always", Trigger: TimeTrigger{}})

	for i := 0; i < 12; i++ {
		engine.EvaluateRules(Context{"i": i})
	}

	log := engine.ExecutionLog(100)
	if len(log) != 5 {
		t.Fatalf("retained %d entries, want 5", len(log))
	}
	for i, entry := range log {
		if want := 7 + i; entry.Context["i"] != want {
			t.Errorf("log[%d] i = %v, want %d", i, entry.Context["i"], want)
		}
	}
}

func TestWithLogLimitBoundsStorage(t *testing.T) {
	engine := newTestEngine(t, WithLogLimit(5))
	engine.AddRule(RuleSpec{Name: "always", Trigger: TimeTrigger{}})

	for i := 0; i < 1000; i++ {
		engine.EvaluateRules(Context{"i": i})
		if n := len(engine.log); n >= 10 {
			t.Fatalf("after %d appends storage holds %d entries, want < 10", i+1, n)
		}
		log := engine.ExecutionLog(100)
		want := i + 1
		if want > 5 {
			want = 5
		}
		if len(log) != want {
			t.Fatalf("after %d appends got %d entries, want %d", i+1, len(log), want)
		}
		if log[len(log)-1].Context["i"] != i {
			t.Fatalf("newest entry i = %v, want %d", log[len(log)-1].Context["i"], i)
		}
	}

	log := engine.ExecutionLog(3)
	for i, entry := range log {
		if want := 997 + i; entry.Context["i"] != want {
			t.Errorf("log[%d] i = %v, want %d", i, entry.Context["i"], want)
		}
	}
}

func TestOverview(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{Name: "always", Trigger: TimeTrigger{}})
	engine.AddRule(RuleSpec{Name: "off", Trigger: EventTrigger{Event: "e"}, Enabled: boolPtr(false)})
	for i := 0; i < 4; i++ {
		engine.EvaluateRules(Context{"i": i})
	}

	o := engine.Overview(2)
	if o.TotalRules != 2 || o.ActiveRules != 1 || len(o.Rules) != 2 {
		t.Errorf("overview counts = %d/%d with %d rules", o.ActiveRules, o.TotalRules, len(o.Rules))
	}
	if len(o.RecentExecutions) != 2 || o.RecentExecutions[1].Context["i"] != 3 {
		t.Errorf("recent = %+v", o.RecentExecutions)
	}
	if n := len(engine.Overview(0).RecentExecutions); n != 4 {
		t.Errorf("default recent = %d, want 4", n)
	}
}

func TestOverviewIsConsistentUnderToggles(t *testing.T) {
	engine := newTestEngine(t)
	for i := 0; i < 10; i++ {
		engine.AddRule(RuleSpec{Name: fmt.Sprintf("r%d", i), Trigger: EventTrigger{Event: "e"}})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			engine.SetEnabled(fmt.Sprintf("r%d", i%10), i%2 == 0)
		}
	}()

	for i := 0; i < 500; i++ {
		o := engine.Overview(5)
		active := 0
		for _, r := range o.Rules {
			if r.Enabled {
				active++
			}
		}
		if active != o.ActiveRules || len(o.Rules) != o.TotalRules {
			t.Fatalf("overview out of step: %d enabled listed, active_rules %d", active, o.ActiveRules)
		}
	}
	<-done
}

func TestSetEnabled(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{Name: "toggle", Trigger: TimeTrigger{}})

	if !engine.SetEnabled("toggle", false) {
		t.Fatal("SetEnabled() should find rule")
	}
	if got := engine.EvaluateRules(Context{}); len(got) != 0 {
		t.Errorf("disabled rule fired")
	}
	if engine.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", engine.ActiveCount())
	}

	engine.SetEnabled("toggle", true)
	if got := engine.EvaluateRules(Context{}); len(got) != 1 {
		t.Errorf("re-enabled rule did not fire")
	}

	if engine.SetEnabled("missing", true) {
		t.Error("SetEnabled() should report missing rule")
	}
}

func TestExpressionTrigger(t *testing.T) {
	testCases := []struct {
		name       string
		expression string
		ctx        Context
		want       bool
	}{
		{"numeric match", `ctx.feedback_count >= 50`, Context{"feedback_count": 55}, true},
		{"numeric miss", `ctx.feedback_count >= 50`, Context{"feedback_count": 10}, false},
		{"event membership", `"course_completed" in ctx.events`, Context{"events": []string{"course_completed"}}, true},
		{"combined", `has(ctx.avg_sentiment) && ctx.avg_sentiment <= 35.0 && ctx.feedback_count > 5`, Context{"avg_sentiment": 30.0, "feedback_count": 6}, true},
		{"decoded json number", `ctx.late_count >= 3`, Context{"late_count": json.Number("4")}, true},
		{"nested json number", `ctx.stats.rate < 0.5`, Context{"stats": map[string]any{"rate": json.Number("0.25")}}, true},
		{"missing key errors", `ctx.absent > 1`, Context{}, false},
		{"nil context", `ctx.size() == 0`, nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			engine := newTestEngine(t)
			engine.AddRule(RuleSpec{Name: "expr", Trigger: ExpressionTrigger{Expression: tc.expression}})
			if fired := len(engine.EvaluateRules(tc.ctx)) == 1; fired != tc.want {
				t.Errorf("%s fired=%v, want %v", tc.expression, fired, tc.want)
			}
		})
	}
}

func TestInvalidExpressionNeverFires(t *testing.T) {
	expressions := []string{``, `ctx.x >=`, `1 + 2`, `"text"`}

	for _, expr := range expressions {
		engine := newTestEngine(t)
		index := engine.AddRule(RuleSpec{Name: "bad", Trigger: ExpressionTrigger{Expression: expr}})
		if index != 0 {
			t.Fatalf("AddRule() = %d, want 0", index)
		}
		if got := engine.EvaluateRules(Context{"x": 1}); len(got) != 0 {
			t.Errorf("invalid expression %q fired", expr)
		}
	}
}

func TestConcurrentEvaluateAndAdd(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{Name: "always", Trigger: TimeTrigger{}})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			engine.EvaluateRules(Context{"n": 1})
		}()
		go func(i int) {
			defer wg.Done()
			engine.AddRule(RuleSpec{Name: fmt.Sprintf("r%d", i), Trigger: EventTrigger{Event: "e"}})
			_ = engine.RulesStatus()
			_ = engine.ExecutionLog(5)
		}(i)
	}
	wg.Wait()

	if engine.Len() != 21 {
		t.Errorf("Len() = %d, want 21", engine.Len())
	}
	if n := len(engine.ExecutionLog(100)); n != 20 {
		t.Errorf("log has %d entries, want 20", n)
	}
}
