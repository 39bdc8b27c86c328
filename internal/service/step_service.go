package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"surveyrun/internal/model"
	"surveyrun/internal/normalizer"
	"surveyrun/internal/repository"
	"surveyrun/internal/rotation"
)

// StepView is a step together with the respondent's saved state
type StepView struct {
	Step      *model.Step `json:"step"`
	AnswerKey string      `json:"answerKey"`
	Value     any         `json:"value,omitempty"`

	Options      []OptionView         `json:"options,omitempty"`
	Values       map[string]any       `json:"values,omitempty"`
	Grid         []GridRowView        `json:"grid,omitempty"`
	Autocomplete []AutocompleteOption `json:"autocomplete,omitempty"`
	Rotation     *RotationView        `json:"rotation,omitempty"`
}

// OptionView is a choice option with its selection state
type OptionView struct {
	Code              string         `json:"code"`
	Label             string         `json:"label"`
	Selected          bool           `json:"selected"`
	RequiresPrecision bool           `json:"requiresPrecision,omitempty"`
	Precision         string         `json:"precision,omitempty"`
	SubValues         map[string]any `json:"subValues,omitempty"`
}

// GridRowView is one grid row with its cells
type GridRowView struct {
	RowID string         `json:"rowId"`
	Label string         `json:"label,omitempty"`
	Cells []GridCellView `json:"cells"`
}

// GridCellView is one row x response intersection as rendered
type GridCellView struct {
	ColID      string `json:"colId"`
	Enabled    bool   `json:"enabled"`
	IsRadio    bool   `json:"isRadio"`
	IsCheckbox bool   `json:"isCheckbox"`
	Name       string `json:"name,omitempty"`
	Value      string `json:"value,omitempty"`
	Checked    bool   `json:"checked"`
}

// AutocompleteOption is one selectable table item
type AutocompleteOption struct {
	Display      string `json:"display"`
	InputDisplay string `json:"inputDisplay"`
	JSONData     string `json:"jsonData"`
}

// RotationView describes the active rotation instance
type RotationView struct {
	Parent      string `json:"parent"`
	OptionCode  string `json:"optionCode"`
	OptionLabel string `json:"optionLabel"`
	Remaining   int    `json:"remaining"`
}

// StepService renders steps for the respondent
type StepService struct {
	surveys *SurveyService
	tables  repository.TableRepo
	log     zerolog.Logger
}

// NewStepService creates a new step service
func NewStepService(surveys *SurveyService, tables repository.TableRepo, log zerolog.Logger) *StepService {
	return &StepService{
		surveys: surveys,
		tables:  tables,
		log:     log,
	}
}

// Current renders the step the session stands on
func (s *StepService) Current(ctx context.Context, surveyID string, state *model.SessionState) (*StepView, error) {
	sv, err := s.surveys.Load(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	state.Init()
	step, w, ok := rotation.CurrentStep(state, sv)
	if !ok {
		return nil, errors.Wrapf(ErrStepNotFound, "survey %s step %q", surveyID, state.CurrentStepID)
	}
	return s.view(step, w, state), nil
}

// Get renders stepID. The active rotation instance is used when it matches.
func (s *StepService) Get(ctx context.Context, surveyID, stepID string, state *model.SessionState) (*StepView, error) {
	sv, err := s.surveys.Load(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	state.Init()
	if w, ok := state.Head(); ok && w.ID == stepID && w.Step != nil {
		return s.view(w.Step, w, state), nil
	}
	step, ok := sv.Step(stepID)
	if !ok {
		return nil, errors.Wrapf(ErrStepNotFound, "survey %s step %q", surveyID, stepID)
	}
	return s.view(step, nil, state), nil
}

func (s *StepService) view(step *model.Step, w *model.RotationWrapper, state *model.SessionState) *StepView {
	scope := model.ScopeFor(step, w)
	saved := state.Answers[scope.SessionID]
	v := &StepView{Step: step, AnswerKey: scope.SessionID, Value: saved}

	if w != nil {
		v.Rotation = &RotationView{
			Parent:      w.Parent,
			OptionCode:  w.OptionCode,
			OptionLabel: w.OptionLabel,
			Remaining:   len(state.RotationQueue),
		}
	}

	switch step.Type {
	case model.StepSingleChoice, model.StepMultipleChoice:
		v.Options = optionViews(step, scope, saved, state.Answers)
	case model.StepAccordion:
		v.Values = accordionValues(step, saved)
	case model.StepGrid:
		v.Grid = gridViews(step, saved)
	case model.StepAutocomplete:
		v.Autocomplete = s.autocompleteOptions(step)
	}
	return v
}

func optionViews(step *model.Step, scope model.Scope, saved any, answers model.Answers) []OptionView {
	selected := model.ToStrings(saved)
	out := make([]OptionView, 0, len(step.Options))
	for _, opt := range step.Options {
		code := string(opt.Code)
		ov := OptionView{
			Code:              code,
			Label:             opt.Label,
			Selected:          model.Contains(selected, code),
			RequiresPrecision: opt.RequiresPrecision,
		}
		if ov.Selected && opt.RequiresPrecision {
			sk, _ := scope.Precision(code)
			ov.Precision = model.Stringify(answers[sk])
		}
		if ov.Selected && len(opt.SubQuestions) > 0 {
			ov.SubValues = map[string]any{}
			for _, sub := range opt.SubQuestions {
				sk, _ := scope.Sub(code, sub.ID, sub.DBID())
				if v, ok := answers[sk]; ok {
					ov.SubValues[sub.ID] = v
				}
			}
		}
		out = append(out, ov)
	}
	return out
}

func accordionValues(step *model.Step, saved any) map[string]any {
	stored, _ := model.AsMap(saved)
	out := map[string]any{}
	for _, sec := range step.Sections {
		for _, q := range sec.Questions {
			if v, ok := stored[q.ID]; ok {
				out[q.ID] = v
			}
		}
	}
	return out
}

func gridViews(step *model.Step, saved any) []GridRowView {
	cells := map[string]string{}
	if saved != nil {
		cells = normalizer.GridCells(step, saved)
	}
	has := func(key, item string) bool {
		v, ok := cells[key]
		return ok && model.Contains(strings.Split(v, "/"), item)
	}

	rows := make([]GridRowView, 0, len(step.Rows))
	for _, row := range step.Rows {
		rv := GridRowView{RowID: row.ID, Label: row.Label, Cells: make([]GridCellView, 0, len(step.Responses))}
		for _, resp := range step.Responses {
			cell := GridCellView{
				ColID:      resp.ID,
				Enabled:    row.CellEnabled(resp.ID),
				IsRadio:    resp.Input.Type == model.InputRadio,
				IsCheckbox: resp.Input.Type == model.InputCheckbox,
			}
			if cell.Enabled {
				switch {
				case cell.IsRadio && resp.Input.Axis == model.AxisColumn:
					cell.Name, cell.Value = resp.ID, row.ID
				default:
					cell.Name, cell.Value = row.ID, resp.ID
				}
				if resp.Input.Axis == model.AxisColumn {
					cell.Checked = has(resp.ID, row.ID)
				} else {
					cell.Checked = has(row.ID, resp.ID)
				}
			}
			rv.Cells = append(rv.Cells, cell)
		}
		rows = append(rows, rv)
	}
	return rows
}

// autocompleteOptions builds the widget items of step from its table.
// A table that cannot be read yields no options.
func (s *StepService) autocompleteOptions(step *model.Step) []AutocompleteOption {
	if step.Table == "" || s.tables == nil {
		return nil
	}
	items, err := s.tables.Load(step.Table)
	if err != nil {
		s.log.Error().Err(err).Str("table", step.Table).Msg("failed to load autocomplete table")
		return []AutocompleteOption{}
	}

	out := make([]AutocompleteOption, 0, len(items))
	for _, item := range items {
		var list, input []string
		save := map[string]any{}
		for _, col := range step.Columns {
			v := item[col.Name]
			if col.DisplayInList {
				list = append(list, model.Stringify(v))
			}
			if col.SaveInDB {
				save[col.Name] = v
			}
			if col.DisplayInInput {
				input = append(input, model.Stringify(v))
			}
		}
		data, err := json.Marshal(save)
		if err != nil {
			s.log.Warn().Err(err).Str("table", step.Table).Msg("skipping autocomplete item")
			continue
		}
		out = append(out, AutocompleteOption{
			Display:      strings.Join(list, " - "),
			InputDisplay: strings.Join(input, " "),
			JSONData:     string(data),
		})
	}
	return out
}
