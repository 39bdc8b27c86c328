// Package validation decides whether a step's required answers, precisions and
// sub-answers are satisfied by the session answers.
package validation

import (
	"fmt"
	"strings"

	"surveyrun/internal/model"
	"surveyrun/internal/normalizer"
)

// Issue is one unmet obligation. Field is the exact composite answer key of the
// offending control; Message is what the respondent reads.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Check runs every obligation of step against answers. w is the active rotation
// instance, or nil.
func Check(step *model.Step, answers model.Answers, w *model.RotationWrapper) []Issue {
	scope := model.ScopeFor(step, w)
	c := &checker{answers: answers, scope: scope}
	if step.Type == model.StepGrid {
		c.grid(step, scope.SessionID, "")
		return c.issues
	}
	c.question(step, scope.SessionID, "")
	return c.issues
}

// ValidateStep reports whether step has no unmet obligation
func ValidateStep(step *model.Step, answers model.Answers, w *model.RotationWrapper) bool {
	return len(Check(step, answers, w)) == 0
}

// MissingMessages returns the human readable messages, grid columns aggregated
func MissingMessages(step *model.Step, answers model.Answers, w *model.RotationWrapper) []string {
	var out []string
	seen := map[string]bool{}
	for _, is := range Check(step, answers, w) {
		if seen[is.Message] {
			continue
		}
		seen[is.Message] = true
		out = append(out, is.Message)
	}
	return out
}

// InvalidFields returns the composite keys of the controls to highlight
func InvalidFields(step *model.Step, answers model.Answers, w *model.RotationWrapper) []string {
	var out []string
	seen := map[string]bool{}
	for _, is := range Check(step, answers, w) {
		if seen[is.Field] {
			continue
		}
		seen[is.Field] = true
		out = append(out, is.Field)
	}
	return out
}

type checker struct {
	answers model.Answers
	scope   model.Scope
	issues  []Issue
}

func (c *checker) add(field, message string) {
	c.issues = append(c.issues, Issue{Field: field, Message: message})
}

func label(s *model.Step) string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}

func joinPath(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " > ")
}

func (c *checker) question(q *model.Step, key, path string) {
	value := c.answers[key]
	here := joinPath(path, label(q))

	if q.Required && !model.HasRealAnswer(value) {
		c.add(key, here)
	}

	switch {
	case q.Type.IsChoice():
		if model.HasRealAnswer(value) {
			c.options(q, key, here, model.ToStrings(value))
		}
	case q.Type == model.StepAccordion:
		c.accordion(q, key, path)
	case q.Type == model.StepGrid && key != c.scope.SessionID:
		c.grid(q, key, path)
	}
}

func (c *checker) options(q *model.Step, key, path string, selected []string) {
	for _, code := range selected {
		opt, ok := q.Option(code)
		if !ok {
			continue
		}
		if opt.RequiresPrecision {
			pk := model.PrecisionKey(key, code).String()
			if strings.TrimSpace(model.Stringify(c.answers[pk])) == "" {
				optLabel := opt.Label
				if optLabel == "" {
					optLabel = code
				}
				c.add(pk, joinPath(path, fmt.Sprintf("Precision for %q", optLabel)))
			}
		}
		for _, sub := range opt.SubQuestions {
			c.question(sub, model.SubQuestionKey(key, code, sub.ID).String(), path)
		}
	}
}

func (c *checker) accordion(q *model.Step, key, path string) {
	answer, _ := model.AsMap(c.answers[key])
	for _, sec := range q.Sections {
		for _, inner := range sec.Questions {
			if !inner.Required {
				continue
			}
			if !model.HasRealAnswer(answer[inner.ID]) {
				c.add(c.scope.Suffix(inner.ID), joinPath(path, sec.Title, label(inner)))
			}
		}
	}
}

func (c *checker) grid(step *model.Step, key, path string) {
	value, _ := model.AsMap(c.answers[key])
	cells := normalizer.GridCells(step, value)

	for _, row := range step.Rows {
		if row.Required && !rowAnswered(step, cells, row.ID) {
			rowLabel := row.Label
			if rowLabel == "" {
				rowLabel = row.ID
			}
			c.add(c.scope.Suffix(row.ID), joinPath(path, label(step), rowLabel))
		}
	}

	type missingColumn struct {
		field string
		label string
	}
	var missing []missingColumn
	for _, col := range step.Responses {
		if col.Input.Axis != model.AxisColumn || !col.Input.Required {
			continue
		}
		if columnAnswered(step, value, col.ID) {
			continue
		}
		field := col.ID
		for _, row := range step.Rows {
			if row.CellEnabled(col.ID) {
				field = row.ID
				break
			}
		}
		colLabel := col.Label
		if colLabel == "" {
			colLabel = col.ID
		}
		missing = append(missing, missingColumn{field: c.scope.Suffix(field), label: colLabel})
	}
	if len(missing) == 0 {
		return
	}
	labels := make([]string, len(missing))
	for i, m := range missing {
		labels[i] = m.label
	}
	msg := joinPath(path, "Please answer every required column: "+strings.Join(labels, ", "))
	for _, m := range missing {
		c.add(m.field, msg)
	}
}

// rowAnswered reports whether an enabled, declared cell of rowID survived
// normalization, on the row itself or under a column-axis response.
func rowAnswered(step *model.Step, cells map[string]string, rowID string) bool {
	if cells[rowID] != "" {
		return true
	}
	for _, col := range step.Responses {
		if col.Input.Axis != model.AxisColumn {
			continue
		}
		if model.Contains(strings.Split(cells[col.ID], "/"), rowID) {
			return true
		}
	}
	return false
}

// columnAnswered reports whether an enabled cell of colID carries an answer,
// either through a root-level answer naming a row or through a row's answer set.
func columnAnswered(step *model.Step, value map[string]any, colID string) bool {
	for _, rowID := range model.ToStrings(value[colID]) {
		for _, rid := range strings.Split(rowID, "/") {
			if row, ok := step.Row(rid); ok && row.CellEnabled(colID) {
				return true
			}
		}
	}
	for _, row := range step.Rows {
		if !row.CellEnabled(colID) {
			continue
		}
		if model.Contains(model.ToStrings(value[row.ID]), colID) {
			return true
		}
	}
	return false
}
