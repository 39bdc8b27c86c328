package service

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"surveyrun/internal/model"
	"surveyrun/internal/normalizer"
	"surveyrun/internal/repository"
)

// Sheet names of the exported workbooks
const (
	SheetAnswers   = "Answers"
	SheetKeys      = "Keys"
	SheetResponses = "Responses"
)

// KeyInfo explains one persisted answer key
type KeyInfo struct {
	Key    string
	StepID string
	Label  string
	Kind   string
	Option string
	order  int
}

// ExportService writes responses as Excel workbooks
type ExportService struct {
	surveys   *SurveyService
	responses repository.ResponseRepository
	log       zerolog.Logger
}

// NewExportService creates a new export service
func NewExportService(surveys *SurveyService, responses repository.ResponseRepository, log zerolog.Logger) *ExportService {
	return &ExportService{
		surveys:   surveys,
		responses: responses,
		log:       log,
	}
}

// KeyGuide lists every key the survey can persist, in step order
func KeyGuide(sv *model.Survey) []KeyInfo {
	var out []KeyInfo
	seen := map[string]bool{}
	add := func(info KeyInfo) {
		if seen[info.Key] {
			return
		}
		seen[info.Key] = true
		info.order = len(out)
		out = append(out, info)
	}

	for _, step := range sv.Steps {
		if step.RepeatFor == "" {
			scope := model.ScopeFor(step, nil)
			for _, k := range normalizer.OwnedDBKeys(step, scope) {
				info := KeyInfo{Key: k, StepID: step.ID, Label: step.Label, Kind: stepKind(step)}
				if step.Type.IsChoice() {
					if parsed, ok := model.ParseKey(k, scope.DBID, step.OptionCodes()); ok {
						info.Kind, info.Option = parsed.Kind.String(), parsed.Code
					}
				}
				add(info)
			}
		}

		if !sv.IsRotationParent(step.ID) {
			continue
		}
		for _, code := range step.OptionCodes() {
			for _, t := range rotatedTargets(sv, step) {
				w := &model.RotationWrapper{ID: t.ID, Parent: step.ID, OptionCode: code}
				scope := model.ScopeFor(t, w)
				for _, k := range normalizer.OwnedDBKeys(t, scope) {
					info := KeyInfo{Key: k, StepID: t.ID, Label: t.Label, Kind: model.KeyRotation.String(), Option: code}
					if k != scope.DBID && t.Type.IsChoice() {
						if parsed, ok := model.ParseKey(k, scope.DBID, t.OptionCodes()); ok {
							info.Kind += ":" + parsed.Kind.String()
						}
					}
					add(info)
				}
			}
		}
	}
	return out
}

// rotatedTargets mirrors the rotation engine's choice of rotated steps
func rotatedTargets(sv *model.Survey, parent *model.Step) []*model.Step {
	var out []*model.Step
	for _, id := range parent.RotationTemplate {
		if s, ok := sv.Step(id); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = sv.RotationChildren(parent.ID)
	}
	return out
}

func stepKind(step *model.Step) string {
	switch step.Type {
	case model.StepAccordion, model.StepGrid:
		return string(step.Type)
	}
	return model.KeyPlain.String()
}

// orderedKeys returns the keys of answers in guide order, unknown keys last and sorted
func orderedKeys(guide map[string]KeyInfo, answers map[string]any) []string {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		a, aok := guide[keys[i]]
		b, bok := guide[keys[j]]
		switch {
		case aok && bok:
			return a.order < b.order
		case aok != bok:
			return aok
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

func guideIndex(sv *model.Survey) map[string]KeyInfo {
	idx := map[string]KeyInfo{}
	for _, info := range KeyGuide(sv) {
		idx[info.Key] = info
	}
	return idx
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func newWorkbook(first string) (*excelize.File, int, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", first); err != nil {
		f.Close()
		return nil, 0, err
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, header, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ResponseWorkbook exports one response: its answers and the key guide of its survey.
// The caller closes the returned file.
func (s *ExportService) ResponseWorkbook(ctx context.Context, responseID string) (*excelize.File, error) {
	resp, err := s.responses.GetByID(ctx, responseID)
	if err != nil {
		return nil, errors.Wrap(err, "load response")
	}
	if resp == nil {
		return nil, errors.Wrap(repository.ErrResponseNotFound, responseID)
	}
	sv, err := s.surveys.Load(ctx, resp.SurveyID)
	if err != nil {
		return nil, err
	}
	guide := guideIndex(sv)

	f, header, err := newWorkbook(SheetAnswers)
	if err != nil {
		return nil, errors.Wrap(err, "create workbook")
	}
	fail := func(err error) (*excelize.File, error) {
		f.Close()
		return nil, errors.Wrap(err, "write response workbook")
	}

	if err := setRow(f, SheetAnswers, 1, []interface{}{"key", "step", "kind", "option", "value"}); err != nil {
		return fail(err)
	}
	for i, k := range orderedKeys(guide, resp.Answers) {
		info, ok := guide[k]
		if !ok {
			info = KeyInfo{Kind: "unknown"}
		}
		row := []interface{}{k, info.StepID, info.Kind, info.Option, model.Stringify(resp.Answers[k])}
		if err := setRow(f, SheetAnswers, i+2, row); err != nil {
			return fail(err)
		}
	}

	if _, err := f.NewSheet(SheetKeys); err != nil {
		return fail(err)
	}
	if err := setRow(f, SheetKeys, 1, []interface{}{"key", "step", "label", "kind", "option"}); err != nil {
		return fail(err)
	}
	for i, info := range KeyGuide(sv) {
		if err := setRow(f, SheetKeys, i+2, []interface{}{info.Key, info.StepID, info.Label, info.Kind, info.Option}); err != nil {
			return fail(err)
		}
	}

	for _, sheet := range []string{SheetAnswers, SheetKeys} {
		if err := f.SetRowStyle(sheet, 1, 1, header); err != nil {
			return fail(err)
		}
	}
	s.log.Debug().Str("response", responseID).Int("answers", len(resp.Answers)).Msg("response exported")
	return f, nil
}

// SurveyWorkbook exports every response of a survey, one row each. Columns
// follow step order; keys the definition no longer knows come last.
func (s *ExportService) SurveyWorkbook(ctx context.Context, surveyID string) (*excelize.File, error) {
	sv, err := s.surveys.Load(ctx, surveyID)
	if err != nil {
		return nil, err
	}
	responses, err := s.responses.ListBySurvey(ctx, surveyID)
	if err != nil {
		return nil, errors.Wrap(err, "list responses")
	}
	guide := guideIndex(sv)

	all := map[string]any{}
	for _, r := range responses {
		for k := range r.Answers {
			all[k] = nil
		}
	}
	columns := orderedKeys(guide, all)

	f, header, err := newWorkbook(SheetResponses)
	if err != nil {
		return nil, errors.Wrap(err, "create workbook")
	}
	fail := func(err error) (*excelize.File, error) {
		f.Close()
		return nil, errors.Wrap(err, "write survey workbook")
	}

	head := []interface{}{"responseId", "userId", "finished", "createdAt", "updatedAt"}
	fixed := len(head)
	for _, k := range columns {
		head = append(head, k)
	}
	if err := setRow(f, SheetResponses, 1, head); err != nil {
		return fail(err)
	}
	for i, r := range responses {
		row := make([]interface{}, 0, fixed+len(columns))
		row = append(row, r.ID, r.UserID, r.Finished, formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
		for _, k := range columns {
			row = append(row, model.Stringify(r.Answers[k]))
		}
		if err := setRow(f, SheetResponses, i+2, row); err != nil {
			return fail(err)
		}
	}
	if err := f.SetRowStyle(SheetResponses, 1, 1, header); err != nil {
		return fail(err)
	}
	s.log.Debug().Str("survey", surveyID).Int("responses", len(responses)).Msg("survey exported")
	return f, nil
}
