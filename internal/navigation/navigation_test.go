package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"surveyrun/internal/model"
)

func steps(ids ...string) []*model.Step {
	out := make([]*model.Step, len(ids))
	for i, id := range ids {
		out[i] = &model.Step{ID: id, Type: model.StepText}
	}
	return out
}

func ruleStep(cond model.Condition, goTo string) *model.Step {
	return &model.Step{
		ID: "q1", Type: model.StepSingleChoice, Redirection: "q2",
		Navigation: &model.Navigation{Rules: []model.NavRule{{If: cond, Then: model.NavTarget{GoTo: goTo}}}},
	}
}

func TestResolveDefaults(t *testing.T) {
	all := steps("q1", "q2", "q3")

	step := &model.Step{ID: "q2", Redirection: "q1"}
	assert.Equal(t, "q1", Resolve(step, model.Answers{}, all))

	step.Navigation = &model.Navigation{Default: model.NavDefaultNext}
	assert.Equal(t, "q3", Resolve(step, model.Answers{}, all))

	step.Navigation.Default = model.NavDefaultRedirection
	assert.Equal(t, "q1", Resolve(step, model.Answers{}, all))

	last := &model.Step{ID: "q3", Navigation: &model.Navigation{Default: model.NavDefaultNext}}
	assert.Equal(t, model.FinishStepID, Resolve(last, model.Answers{}, all))
}

func TestResolveFirstMatchingRuleWins(t *testing.T) {
	step := &model.Step{
		ID: "q1", Redirection: "q2",
		Navigation: &model.Navigation{Rules: []model.NavRule{
			{If: model.Condition{Operator: model.OpEquals, Value: "9"}, Then: model.NavTarget{GoTo: "nine"}},
			{If: model.Condition{Operator: model.OpFilled}, Then: model.NavTarget{GoTo: "filled"}},
			{If: model.Condition{Operator: model.OpEquals, Value: "1"}, Then: model.NavTarget{GoTo: "one"}},
		}},
	}
	assert.Equal(t, "filled", Resolve(step, model.Answers{"q1": "1"}, nil))
	assert.Equal(t, "q2", Resolve(step, model.Answers{}, nil))
}

func TestOperatorQuantifiers(t *testing.T) {
	cases := []struct {
		name   string
		cond   model.Condition
		answer any
		want   bool
	}{
		{"equals any", model.Condition{Operator: model.OpEquals, Value: "2"}, []any{"1", "2"}, true},
		{"equals number against string", model.Condition{Operator: model.OpEquals, Value: 2.0}, "2", true},
		{"not equals all", model.Condition{Operator: model.OpNotEquals, Value: "2"}, []any{"1", "2"}, false},
		{"not equals holds", model.Condition{Operator: model.OpNotEquals, Value: "2"}, []any{"1", "3"}, true},
		{"not equals on missing", model.Condition{Operator: model.OpNotEquals, Value: "2"}, nil, true},
		{"in", model.Condition{Operator: model.OpIn, Values: []any{"3", "4"}}, []string{"1", "4"}, true},
		{"not in all", model.Condition{Operator: model.OpNotIn, Values: []any{"3", "4"}}, []string{"1", "4"}, false},
		{"not in holds", model.Condition{Operator: model.OpNotIn, Values: []any{"3", "4"}}, []string{"1", "2"}, true},
		{"lt", model.Condition{Operator: model.OpLT, Value: 18}, "17", true},
		{"lte", model.Condition{Operator: model.OpLTE, Value: 18}, "18", true},
		{"gt", model.Condition{Operator: model.OpGT, Value: "18"}, 18.5, true},
		{"gte fails", model.Condition{Operator: model.OpGTE, Value: 18}, "17", false},
		{"numeric on text", model.Condition{Operator: model.OpGT, Value: 1}, "abc", false},
		{"between", model.Condition{Operator: model.OpBetween, Values: []any{10, 20}}, "15", true},
		{"between outside", model.Condition{Operator: model.OpBetween, Values: []any{10, 20}}, "25", false},
		{"filled", model.Condition{Operator: model.OpFilled}, "x", true},
		{"filled blank", model.Condition{Operator: model.OpFilled}, "  ", false},
		{"empty missing", model.Condition{Operator: model.OpEmpty}, nil, true},
		{"empty list", model.Condition{Operator: model.OpEmpty}, []any{}, true},
		{"empty filled", model.Condition{Operator: model.OpEmpty}, []any{"1"}, false},
		{"unknown operator", model.Condition{Operator: "LIKE", Value: "x"}, "x", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step := ruleStep(tc.cond, "hit")
			answers := model.Answers{}
			if tc.answer != nil {
				answers["q1"] = tc.answer
			}
			assert.Equal(t, tc.want, Match(step, tc.cond, answers, nil))
		})
	}
}

func TestSimpleRuleFieldExtraction(t *testing.T) {
	cond := model.Condition{Field: "code", Operator: model.OpEquals, Value: "75"}
	step := ruleStep(cond, "paris")

	assert.Equal(t, "paris", Resolve(step, model.Answers{"q1": map[string]any{"code": "75"}}, nil))
	assert.Equal(t, "paris", Resolve(step, model.Answers{"q1": []any{
		map[string]any{"code": "69"}, map[string]any{"code": "75"},
	}}, nil))
	assert.Equal(t, "q2", Resolve(step, model.Answers{"q1": map[string]any{"other": "75"}}, nil))
}

func TestSimpleRuleFieldNamesAnotherAnswer(t *testing.T) {
	cond := model.Condition{Field: "age", Operator: model.OpLT, Value: 18}
	step := ruleStep(cond, "minor")
	assert.Equal(t, "minor", Resolve(step, model.Answers{"q1": "1", "age": "12"}, nil))
}

func TestSimpleRuleQuestion(t *testing.T) {
	cond := model.Condition{Question: "q0", Operator: model.OpIn, Values: []any{"a"}}
	step := ruleStep(cond, "hit")
	assert.Equal(t, "hit", Resolve(step, model.Answers{"q0": []any{"a"}}, nil))
	assert.Equal(t, "q2", Resolve(step, model.Answers{"q1": "a"}, nil))
}

func TestWithAnswerKey(t *testing.T) {
	step := ruleStep(model.Condition{Operator: model.OpEquals, Value: "1"}, "hit")
	answers := model.Answers{"q1": "2", "q1_B": "1"}

	assert.Equal(t, "q2", Resolve(step, answers, nil))
	assert.Equal(t, "hit", Resolve(step, answers, nil, WithAnswerKey("q1_B")))
}

func TestMultiConditionIsConjunction(t *testing.T) {
	cond := model.Condition{Conditions: []model.Condition{
		{Field: "a1", Operator: model.OpEquals, Value: "yes"},
		{Field: "a2", Operator: model.OpGT, Value: 2},
	}}
	step := ruleStep(cond, "both")

	assert.Equal(t, "both", Resolve(step, model.Answers{"q1": map[string]any{"a1": "yes", "a2": "3"}}, nil))
	assert.Equal(t, "q2", Resolve(step, model.Answers{"q1": map[string]any{"a1": "yes", "a2": "1"}}, nil))
	assert.Equal(t, "q2", Resolve(step, model.Answers{}, nil))
}

func boolPtr(b bool) *bool { return &b }

func gridStep(nav model.Condition) *model.Step {
	return &model.Step{
		ID: "g", Type: model.StepGrid, Redirection: "next",
		Rows: []model.GridRow{
			{ID: "r1"},
			{ID: "r2", Cells: map[string]model.GridCell{"c2": {Enabled: boolPtr(false)}}},
			{ID: "r3"},
		},
		Responses: []model.GridResponse{
			{ID: "c1", Input: model.GridInput{Type: model.InputCheckbox, Axis: model.AxisColumn}},
			{ID: "c2", Input: model.GridInput{Type: model.InputCheckbox, Axis: model.AxisColumn}},
		},
		Navigation: &model.Navigation{Rules: []model.NavRule{{If: nav, Then: model.NavTarget{GoTo: "hit"}}}},
	}
}

func TestGridColumnCount(t *testing.T) {
	cond := model.Condition{Axis: model.AxisColumn, Column: "c2", Operator: model.OpGTE, Value: 2}
	step := gridStep(cond)

	// r2 x c2 is disabled and never counts
	answers := model.Answers{"g": map[string]any{"r1": []any{"c2"}, "r2": []any{"c2"}}}
	assert.Equal(t, "next", Resolve(step, answers, nil))

	answers = model.Answers{"g": map[string]any{"r1": []any{"c2"}, "r3": []any{"c1", "c2"}}}
	assert.Equal(t, "hit", Resolve(step, answers, nil))
}

func TestGridRowMembership(t *testing.T) {
	cond := model.Condition{Axis: model.AxisRow, Operator: model.OpIn, Values: []any{"c1"}}
	step := gridStep(cond)

	assert.Equal(t, "hit", Resolve(step, model.Answers{"g": map[string]any{"r2": []any{"c1"}}}, nil))
	assert.Equal(t, "next", Resolve(step, model.Answers{"g": map[string]any{"r1": []any{"c2"}}}, nil))
}

func TestGridEmpty(t *testing.T) {
	step := gridStep(model.Condition{Axis: model.AxisColumn, Operator: model.OpEmpty})
	assert.Equal(t, "hit", Resolve(step, model.Answers{}, nil))
	assert.Equal(t, "next", Resolve(step, model.Answers{"g": map[string]any{"r1": []any{"c1"}}}, nil))
}

func TestGridRuleOnOtherQuestion(t *testing.T) {
	grid := gridStep(model.Condition{})
	grid.Navigation = nil
	step := ruleStep(model.Condition{Question: "g", Axis: model.AxisColumn, Operator: model.OpFilled}, "hit")
	all := []*model.Step{step, grid}

	assert.Equal(t, "hit", Resolve(step, model.Answers{"g": map[string]any{"r3": []any{"c2"}}}, all))
	assert.Equal(t, "q2", Resolve(step, model.Answers{"g": map[string]any{}}, all))
}
