// Package normalizer maps raw form submissions onto flat, persistence-ready answer fields.
package normalizer

import (
	"encoding/json"
	"strings"

	"surveyrun/internal/model"
)

// Field is one normalized answer. SessionKey is empty for fields that only
// exist in the persisted document (accordion and grid cells).
type Field struct {
	DBKey      string
	SessionKey string
	Value      any
}

// Normalize converts raw into fields keyed under scope. raw is never mutated.
func Normalize(step *model.Step, raw any, scope model.Scope) []Field {
	switch step.Type {
	case model.StepText, model.StepSpinner:
		return []Field{{DBKey: scope.DBID, SessionKey: scope.SessionID, Value: raw}}
	case model.StepAutocomplete:
		return []Field{{DBKey: scope.DBID, SessionKey: scope.SessionID, Value: autocompleteID(raw)}}
	case model.StepSingleChoice:
		return normalizeSingle(step, raw, scope)
	case model.StepMultipleChoice:
		return normalizeMultiple(step, raw, scope)
	case model.StepAccordion:
		return normalizeAccordion(step, raw, scope)
	case model.StepGrid:
		return normalizeGrid(step, raw, scope)
	default:
		return []Field{{DBKey: scope.DBID, SessionKey: scope.SessionID, Value: raw}}
	}
}

// Written drops fields whose value is never persisted
func Written(fields []Field) []Field {
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if model.IsEmptyValue(f.Value) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Values returns the persistence map of fields
func Values(fields []Field) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.DBKey] = f.Value
	}
	return out
}

// RawValue returns what a step reads from the submission body
func RawValue(step *model.Step, body map[string]any) (any, bool) {
	if step.Type.ReadsWholeBody() {
		return body, true
	}
	v, ok := body[step.ID]
	return v, ok
}

// MainValue is the value kept in the session under the step's own key
func MainValue(step *model.Step, body map[string]any, raw any) any {
	switch step.Type {
	case model.StepMultipleChoice:
		return selectedCodes(body[step.ID])
	case model.StepSingleChoice:
		return model.Stringify(body[step.ID])
	case model.StepAccordion:
		out := map[string]any{}
		for _, sec := range step.Sections {
			for _, q := range sec.Questions {
				if v, ok := body[q.ID]; ok {
					out[q.ID] = v
				}
			}
		}
		return out
	case model.StepGrid:
		data := gridData(body)
		out := map[string]any{}
		for _, row := range step.Rows {
			if v, ok := data[row.ID]; ok {
				out[row.ID] = v
			}
		}
		for _, resp := range step.Responses {
			if v, ok := data[resp.ID]; ok {
				out[resp.ID] = v
			}
		}
		return out
	default:
		return raw
	}
}

// OwnedDBKeys lists every persisted key the step instance can write
func OwnedDBKeys(step *model.Step, scope model.Scope) []string {
	switch step.Type {
	case model.StepSingleChoice, model.StepMultipleChoice:
		keys := []string{scope.DBID}
		for _, opt := range step.Options {
			code := string(opt.Code)
			if opt.RequiresPrecision {
				_, dbKey := scope.Precision(code)
				keys = append(keys, dbKey)
			}
			for _, sub := range opt.SubQuestions {
				for _, k := range OwnedDBKeys(sub, plainScope(sub)) {
					_, dbKey := scope.Sub(code, "", k)
					keys = append(keys, dbKey)
				}
			}
		}
		return keys
	case model.StepAccordion:
		var keys []string
		for _, sec := range step.Sections {
			prefix := scope.Suffix(sec.ID) + ":"
			for _, q := range sec.Questions {
				for _, k := range OwnedDBKeys(q, plainScope(q)) {
					keys = append(keys, prefix+k)
				}
			}
		}
		return keys
	case model.StepGrid:
		var keys []string
		if hasAxis(step, model.AxisRow) {
			for _, row := range step.Rows {
				keys = append(keys, rowKey(row, scope))
			}
		}
		for _, resp := range step.Responses {
			if resp.Input.Axis == model.AxisColumn {
				keys = append(keys, responseKey(resp, scope))
			}
		}
		return keys
	default:
		return []string{scope.DBID}
	}
}

func plainScope(step *model.Step) model.Scope {
	return model.ScopeFor(step, nil)
}

func autocompleteID(raw any) any {
	var obj map[string]any
	switch t := raw.(type) {
	case string:
		if err := json.Unmarshal([]byte(t), &obj); err != nil {
			return nil
		}
	case map[string]any:
		obj = t
	default:
		return nil
	}
	return obj["_id"]
}

func selectedCodes(v any) []string {
	out := []string{}
	for _, s := range model.ToStrings(v) {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// precision reads precision_<stepId>_<code>, falling back to precision_<code>
func precision(step *model.Step, code string, body map[string]any) (string, bool) {
	for _, k := range []string{"precision_" + step.ID + "_" + code, "precision_" + code} {
		v, ok := body[k]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(model.Stringify(v)); s != "" {
			return s, true
		}
	}
	return "", false
}

func subRawValue(sub *model.Step, code string, body map[string]any) (any, bool) {
	if sub.Type.ReadsWholeBody() {
		return body, true
	}
	if v, ok := body[sub.ID]; ok {
		return v, true
	}
	v, ok := body["sub_"+code]
	return v, ok
}

func optionFields(step *model.Step, opt *model.Option, body map[string]any, scope model.Scope) []Field {
	var fields []Field
	code := string(opt.Code)
	if opt.RequiresPrecision {
		if p, ok := precision(step, code, body); ok {
			sk, dk := scope.Precision(code)
			fields = append(fields, Field{DBKey: dk, SessionKey: sk, Value: p})
		}
	}
	for _, sub := range opt.SubQuestions {
		raw, ok := subRawValue(sub, code, body)
		if !ok {
			continue
		}
		for _, f := range Normalize(sub, raw, plainScope(sub)) {
			sk, dk := scope.Sub(code, f.SessionKey, f.DBKey)
			if f.SessionKey == "" {
				sk = ""
			}
			fields = append(fields, Field{DBKey: dk, SessionKey: sk, Value: f.Value})
		}
	}
	return fields
}

func normalizeSingle(step *model.Step, raw any, scope model.Scope) []Field {
	body, ok := model.AsMap(raw)
	var selected any
	if ok {
		selected = body[step.ID]
	} else {
		selected = raw
		body = map[string]any{}
	}

	var value any
	if selected != nil {
		value = model.Stringify(selected)
	}
	fields := []Field{{DBKey: scope.DBID, SessionKey: scope.SessionID, Value: value}}
	if selected == nil {
		return fields
	}
	if opt, ok := step.Option(model.Stringify(selected)); ok {
		fields = append(fields, optionFields(step, opt, body, scope)...)
	}
	return fields
}

func normalizeMultiple(step *model.Step, raw any, scope model.Scope) []Field {
	body, ok := model.AsMap(raw)
	if !ok {
		body = map[string]any{step.ID: raw}
	}
	codes := selectedCodes(body[step.ID])

	var value any
	if len(codes) > 0 {
		value = strings.Join(codes, "/")
	}
	fields := []Field{{DBKey: scope.DBID, SessionKey: scope.SessionID, Value: value}}
	for _, code := range codes {
		if opt, ok := step.Option(code); ok {
			fields = append(fields, optionFields(step, opt, body, scope)...)
		}
	}
	return fields
}

func normalizeAccordion(step *model.Step, raw any, scope model.Scope) []Field {
	body, ok := model.AsMap(raw)
	if !ok {
		return nil
	}
	var fields []Field
	for _, sec := range step.Sections {
		prefix := scope.Suffix(sec.ID) + ":"
		for _, q := range sec.Questions {
			answer, ok := body[q.ID]
			if !ok {
				continue
			}
			var inner any = answer
			if q.Type.ReadsWholeBody() {
				inner = map[string]any{q.ID: answer}
			}
			for _, f := range Normalize(q, inner, plainScope(q)) {
				fields = append(fields, Field{DBKey: prefix + f.DBKey, Value: f.Value})
			}
		}
	}
	return fields
}

func gridData(raw any) map[string]any {
	body, ok := model.AsMap(raw)
	if !ok {
		return map[string]any{}
	}
	if inner, ok := model.AsMap(body["value"]); ok {
		return inner
	}
	return body
}

func hasAxis(step *model.Step, axis model.GridAxis) bool {
	for _, r := range step.Responses {
		if r.Input.Axis == axis {
			return true
		}
	}
	return false
}

func rowKey(row model.GridRow, scope model.Scope) string {
	if row.IDDB != "" {
		return scope.Suffix(row.IDDB)
	}
	return scope.DBID + "_" + row.ID
}

func responseKey(resp model.GridResponse, scope model.Scope) string {
	if resp.IDDB != "" {
		return scope.Suffix(resp.IDDB)
	}
	return scope.DBID + "_" + resp.ID
}

// GridCells applies the grid addressing rules to raw and returns the surviving
// row and column values keyed by row or response id.
func GridCells(step *model.Step, raw any) map[string]string {
	data := gridData(raw)
	value := map[string]string{}
	appendCell := func(key, item string) {
		if prev, ok := value[key]; ok {
			value[key] = prev + "/" + item
			return
		}
		value[key] = item
	}

	for _, row := range step.Rows {
		answer, ok := data[row.ID]
		if !ok || answer == nil {
			continue
		}
		if s, ok := answer.(string); ok {
			resp, found := step.Response(s)
			if found && resp.Input.Axis == model.AxisRow && resp.Input.Type == model.InputRadio && row.CellEnabled(s) {
				value[row.ID] = s
			}
			continue
		}
		for _, respID := range model.ToStrings(answer) {
			resp, found := step.Response(respID)
			if !found || !row.CellEnabled(respID) {
				continue
			}
			switch resp.Input.Axis {
			case model.AxisRow:
				appendCell(row.ID, respID)
			case model.AxisColumn:
				appendCell(respID, row.ID)
			}
		}
	}

	for _, resp := range step.Responses {
		if resp.Input.Axis != model.AxisColumn || resp.Input.Type != model.InputRadio {
			continue
		}
		rowID, ok := data[resp.ID].(string)
		if !ok {
			continue
		}
		row, found := step.Row(rowID)
		if !found || !row.CellEnabled(resp.ID) {
			continue
		}
		value[resp.ID] = rowID
	}
	return value
}

func normalizeGrid(step *model.Step, raw any, scope model.Scope) []Field {
	if _, ok := model.AsMap(raw); !ok {
		return nil
	}
	cells := GridCells(step, raw)
	var fields []Field
	for _, row := range step.Rows {
		if v, ok := cells[row.ID]; ok {
			fields = append(fields, Field{DBKey: rowKey(row, scope), Value: v})
		}
	}
	for _, resp := range step.Responses {
		if v, ok := cells[resp.ID]; ok {
			fields = append(fields, Field{DBKey: responseKey(resp, scope), Value: v})
		}
	}
	return fields
}
