package rules

import (
	"strings"
	"testing"
)

func TestLint(t *testing.T) {
	engine := newTestEngine(t)
	engine.AddRule(RuleSpec{Name: "existing", Trigger: EventTrigger{Event: "e"}, Action: NotificationAction{Message: "m"}})

	testCases := []struct {
		name      string
		spec      RuleSpec
		wantField string
		wantText  string
	}{
		{
			name:      "clean rule",
			spec:      RuleSpec{Name: "ok_rule", Trigger: ThresholdTrigger{Field: "feedback_count", Value: 50}, Action: NotificationAction{Message: "m"}},
			wantField: "",
		},
		{
			name:      "empty name",
			spec:      RuleSpec{Trigger: EventTrigger{Event: "e"}, Action: NotificationAction{}},
			wantField: "name",
			wantText:  "empty",
		},
		{
			name:      "bad name",
			spec:      RuleSpec{Name: "9lives", Trigger: EventTrigger{Event: "e"}, Action: NotificationAction{}},
			wantField: "name",
			wantText:  "pattern",
		},
		{
			name:      "duplicate name",
			spec:      RuleSpec{Name: "existing", Trigger: EventTrigger{Event: "e"}, Action: NotificationAction{}},
			wantField: "name",
			wantText:  "already exists",
		},
		{
			name:      "unknown operator",
			spec:      RuleSpec{Name: "op", Trigger: ThresholdTrigger{Field: "x", Operator: "!="}, Action: NotificationAction{}},
			wantField: "condition.operator",
			wantText:  "never fire",
		},
		{
			name:      "inert",
			spec:      RuleSpec{Name: "inert", Trigger: InertTrigger{Name: "cron", Reason: `unknown trigger kind "cron"`}, Action: NotificationAction{}},
			wantField: "condition",
			wantText:  "cron",
		},
		{
			name:      "bad expression",
			spec:      RuleSpec{Name: "expr", Trigger: ExpressionTrigger{Expression: "ctx.x >"}, Action: NotificationAction{}},
			wantField: "condition.expression",
			wantText:  "compile error",
		},
		{
			name:      "missing action",
			spec:      RuleSpec{Name: "no_action", Trigger: EventTrigger{Event: "e"}},
			wantField: "action",
			wantText:  "no action",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			issues := engine.Lint(tc.spec)
			if tc.wantField == "" {
				if len(issues) != 0 {
					t.Errorf("Lint() = %v, want no issues", issues)
				}
				return
			}

			for _, issue := range issues {
				if issue.Field == tc.wantField && strings.Contains(issue.Message, tc.wantText) {
					return
				}
			}
			t.Errorf("Lint() = %v, want %s issue containing %q", issues, tc.wantField, tc.wantText)
		})
	}

	if engine.Len() != 1 {
		t.Error("Lint() must not add rules")
	}
}
