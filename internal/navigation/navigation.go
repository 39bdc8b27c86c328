// Package navigation evaluates the declarative branching rules of a step.
package navigation

import (
	"strconv"
	"strings"

	"surveyrun/internal/model"
	"surveyrun/internal/normalizer"
)

type options struct {
	answerKey string
}

// Option tunes a single resolution
type Option func(*options)

// WithAnswerKey reads the step's own answer under key instead of step.ID.
// The run service passes the scoped key of a rotation instance.
func WithAnswerKey(key string) Option {
	return func(o *options) { o.answerKey = key }
}

// Resolve returns the target of the first matching rule, else the default target
func Resolve(step *model.Step, answers model.Answers, steps []*model.Step, opts ...Option) string {
	o := options{answerKey: step.ID}
	for _, fn := range opts {
		fn(&o)
	}

	nav := step.Navigation
	if nav != nil {
		for _, rule := range nav.Rules {
			if match(step, rule.If, answers, steps, o.answerKey) {
				return rule.Then.GoTo
			}
		}
		if nav.Default == model.NavDefaultNext {
			return model.NextStepID(steps, step.ID)
		}
	}
	return step.Redirection
}

// Match reports whether cond holds for step's answer
func Match(step *model.Step, cond model.Condition, answers model.Answers, steps []*model.Step) bool {
	return match(step, cond, answers, steps, step.ID)
}

func match(step *model.Step, cond model.Condition, answers model.Answers, steps []*model.Step, key string) bool {
	switch {
	case cond.Axis != "":
		return matchGrid(step, cond, answers, steps, key)
	case len(cond.Conditions) > 0:
		for _, c := range cond.Conditions {
			if !match(step, c, answers, steps, key) {
				return false
			}
		}
		return true
	default:
		return evaluate(cond, extract(source(cond, answers, key), cond.Field))
	}
}

// source picks the answer a simple condition reads. A field that is not a
// sub-field of the step's own answer names another answer key.
func source(cond model.Condition, answers model.Answers, key string) any {
	if cond.Question != "" {
		return answers[cond.Question]
	}
	own, ok := answers[key]
	if cond.Field == "" || (ok && structured(own)) {
		return own
	}
	if v, ok := answers[cond.Field]; ok {
		return v
	}
	return own
}

func structured(v any) bool {
	if _, ok := model.AsMap(v); ok {
		return true
	}
	for _, item := range model.ToList(v) {
		if _, ok := model.AsMap(item); ok {
			return true
		}
	}
	return false
}

// extract narrows v to field and coerces the result to a list
func extract(v any, field string) []any {
	if v == nil {
		return nil
	}
	if field != "" {
		if m, ok := model.AsMap(v); ok {
			if inner, ok := m[field]; ok {
				return model.ToList(inner)
			}
			return nil
		}
		if list, ok := v.([]any); ok && structured(v) {
			var out []any
			for _, item := range list {
				if m, ok := model.AsMap(item); ok {
					if inner, ok := m[field]; ok {
						out = append(out, inner)
					}
				}
			}
			return out
		}
	}
	return model.ToList(v)
}

func evaluate(cond model.Condition, values []any) bool {
	switch cond.Operator {
	case model.OpEquals:
		want := model.Stringify(cond.Value)
		return anyOf(values, func(v any) bool { return model.Stringify(v) == want })
	case model.OpNotEquals:
		want := model.Stringify(cond.Value)
		return allOf(values, func(v any) bool { return model.Stringify(v) != want })
	case model.OpIn:
		set := model.ToStrings(cond.Values)
		return anyOf(values, func(v any) bool { return model.Contains(set, model.Stringify(v)) })
	case model.OpNotIn:
		set := model.ToStrings(cond.Values)
		return allOf(values, func(v any) bool { return !model.Contains(set, model.Stringify(v)) })
	case model.OpLT, model.OpLTE, model.OpGT, model.OpGTE, model.OpBetween:
		return anyOf(values, func(v any) bool {
			n, ok := toFloat(v)
			return ok && compare(cond, n)
		})
	case model.OpFilled:
		return anyOf(values, model.HasRealAnswer)
	case model.OpEmpty:
		return allOf(values, func(v any) bool { return !model.HasRealAnswer(v) })
	default:
		return false
	}
}

// compare applies a numeric operator to n
func compare(cond model.Condition, n float64) bool {
	if cond.Operator == model.OpBetween {
		if len(cond.Values) < 2 {
			return false
		}
		lo, ok1 := toFloat(cond.Values[0])
		hi, ok2 := toFloat(cond.Values[1])
		return ok1 && ok2 && n >= lo && n <= hi
	}
	want, ok := toFloat(cond.Value)
	if !ok {
		return false
	}
	switch cond.Operator {
	case model.OpLT:
		return n < want
	case model.OpLTE:
		return n <= want
	case model.OpGT:
		return n > want
	case model.OpGTE:
		return n >= want
	}
	return false
}

func toFloat(v any) (float64, bool) {
	s := strings.TrimSpace(model.Stringify(v))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func anyOf(values []any, pred func(any) bool) bool {
	for _, v := range values {
		if pred(v) {
			return true
		}
	}
	return false
}

func allOf(values []any, pred func(any) bool) bool {
	for _, v := range values {
		if !pred(v) {
			return false
		}
	}
	return true
}

// matchGrid evaluates an axis rule. Numeric operators compare the number of
// selected items, the others test the items themselves.
func matchGrid(step *model.Step, cond model.Condition, answers model.Answers, steps []*model.Step, key string) bool {
	grid, answer := step, answers[key]
	if cond.Question != "" {
		grid = nil
		for _, s := range steps {
			if s.ID == cond.Question {
				grid = s
				break
			}
		}
		answer = answers[cond.Question]
	}
	if grid == nil || grid.Type != model.StepGrid {
		return false
	}

	items := gridItems(grid, answer, cond)
	switch cond.Operator {
	case model.OpLT, model.OpLTE, model.OpGT, model.OpGTE, model.OpBetween:
		return compare(cond, float64(len(items)))
	}
	values := make([]any, len(items))
	for i, s := range items {
		values[i] = s
	}
	return evaluate(cond, values)
}

// gridItems lists, for a row rule, the responses selected across rows and, for a
// column rule, the rows selected across columns. Column narrows both to the rows
// that selected that response.
func gridItems(step *model.Step, answer any, cond model.Condition) []string {
	selected := gridMatrix(step, answer)
	var items []string
	if cond.Column != "" {
		for _, row := range step.Rows {
			if selected[row.ID][cond.Column] {
				items = append(items, row.ID)
			}
		}
		return items
	}
	if cond.Axis == model.AxisColumn {
		for _, resp := range step.Responses {
			for _, row := range step.Rows {
				if selected[row.ID][resp.ID] {
					items = append(items, row.ID)
				}
			}
		}
		return items
	}
	for _, row := range step.Rows {
		for _, resp := range step.Responses {
			if selected[row.ID][resp.ID] {
				items = append(items, resp.ID)
			}
		}
	}
	return items
}

func gridMatrix(step *model.Step, answer any) map[string]map[string]bool {
	out := map[string]map[string]bool{}
	mark := func(rowID, respID string) {
		if out[rowID] == nil {
			out[rowID] = map[string]bool{}
		}
		out[rowID][respID] = true
	}
	for id, v := range normalizer.GridCells(step, answer) {
		parts := strings.Split(v, "/")
		if _, isRow := step.Row(id); isRow {
			for _, respID := range parts {
				mark(id, respID)
			}
			continue
		}
		for _, rowID := range parts {
			mark(rowID, id)
		}
	}
	return out
}
