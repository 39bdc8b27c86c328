package service

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"surveyrun/internal/model"
	"surveyrun/internal/navigation"
	"surveyrun/internal/normalizer"
	"surveyrun/internal/repository"
	"surveyrun/internal/rotation"
	"surveyrun/internal/validation"
)

// ErrStepNotFound is returned when the session points at a step the survey lacks
var ErrStepNotFound = errors.New("step not found")

// Action is what the respondent asked for
type Action string

const (
	ActionNext Action = "next"
	ActionPrev Action = "prev"
)

// ParseAction reads body._action, then body.action. Anything else means next.
func ParseAction(body map[string]any) Action {
	for _, k := range []string{"_action", "action"} {
		if v, ok := body[k]; ok {
			if Action(strings.ToLower(model.Stringify(v))) == ActionPrev {
				return ActionPrev
			}
			return ActionNext
		}
	}
	return ActionNext
}

// Outcome tags a Result
type Outcome string

const (
	OutcomeNext            Outcome = "next"
	OutcomeValidationError Outcome = "validation_error"
	OutcomeFinished        Outcome = "finished"
)

// Result tells the caller what to render next
type Result struct {
	Outcome       Outcome  `json:"outcome"`
	NextStepID    string   `json:"nextStepId,omitempty"`
	CurrentStepID string   `json:"currentStepId,omitempty"`
	Messages      []string `json:"messages,omitempty"`
	InvalidFields []string `json:"invalidFields,omitempty"`
	ResponseID    string   `json:"responseId,omitempty"`
}

// RunRequest is one navigation request of a respondent
type RunRequest struct {
	SurveyID string
	Action   Action
	Body     map[string]any
	Session  *model.SessionState
	UserID   string
}

// RunService drives a respondent through a survey
type RunService struct {
	surveys     *SurveyService
	responses   repository.ResponseRepository
	broadcaster Broadcaster
	log         zerolog.Logger
}

// NewRunService creates a new run service
func NewRunService(surveys *SurveyService, responses repository.ResponseRepository, log zerolog.Logger) *RunService {
	return &RunService{
		surveys:     surveys,
		responses:   responses,
		broadcaster: nopBroadcaster{},
		log:         log,
	}
}

// SetBroadcaster sets the broadcaster for progress events
func (s *RunService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// Run applies one action to req.Session. The caller persists the session
// afterwards, or destroys it when the outcome is finished.
func (s *RunService) Run(ctx context.Context, req RunRequest) (*Result, error) {
	if req.Session == nil {
		return nil, errors.New("run without session")
	}
	sv, err := s.surveys.Load(ctx, req.SurveyID)
	if err != nil {
		return nil, err
	}
	state := req.Session
	state.Init()
	if state.SurveyID == "" {
		state.SurveyID = sv.ID
	}
	if err := s.ensureResponse(ctx, state, req.UserID); err != nil {
		return nil, err
	}

	current, wrapper, ok := rotation.CurrentStep(state, sv)
	if !ok {
		return nil, errors.Wrapf(ErrStepNotFound, "survey %s step %q", sv.ID, state.CurrentStepID)
	}
	log := s.log.With().Str("survey", sv.ID).Str("session", state.ID).Str("step", current.ID).Logger()

	if req.Action == ActionPrev {
		prev := s.previous(state, sv)
		log.Debug().Str("target", prev).Msg("previous")
		return &Result{Outcome: OutcomeNext, NextStepID: prev, ResponseID: state.ResponseID}, nil
	}

	pageSteps := []*model.Step{current}
	if wrapper == nil {
		pageSteps = sv.PageSteps(current)
	}
	for _, step := range pageSteps {
		if err := s.saveStep(ctx, state, sv, step, wrapper, req.Body); err != nil {
			return nil, err
		}
	}

	var issues []validation.Issue
	for _, step := range pageSteps {
		issues = append(issues, validation.Check(step, state.Answers, wrapper)...)
	}
	if len(issues) > 0 {
		log.Debug().Int("issues", len(issues)).Msg("validation failed")
		return validationResult(current, issues, state.ResponseID), nil
	}

	state.PushHistory(state.CurrentEvent())
	next := s.resolveNext(state, sv, current, wrapper)
	s.broadcaster.BroadcastToSurvey(sv.ID, EventStepCompleted, ProgressEvent{
		SessionID: state.ID, ResponseID: state.ResponseID, StepID: current.ID, NextStepID: next,
	})

	if next == "" || next == model.FinishStepID {
		if err := s.responses.MarkFinished(ctx, state.ResponseID); err != nil {
			return nil, errors.Wrap(err, "finish response")
		}
		log.Info().Str("response", state.ResponseID).Msg("survey finished")
		s.broadcaster.BroadcastToSurvey(sv.ID, EventSurveyFinished, ProgressEvent{
			SessionID: state.ID, ResponseID: state.ResponseID,
		})
		return &Result{Outcome: OutcomeFinished, ResponseID: state.ResponseID}, nil
	}

	state.CurrentStepID = next
	log.Debug().Str("next", next).Msg("advanced")
	return &Result{Outcome: OutcomeNext, NextStepID: next, ResponseID: state.ResponseID}, nil
}

func validationResult(current *model.Step, issues []validation.Issue, responseID string) *Result {
	res := &Result{Outcome: OutcomeValidationError, CurrentStepID: current.ID, ResponseID: responseID}
	seenMsg, seenField := map[string]bool{}, map[string]bool{}
	for _, is := range issues {
		if !seenMsg[is.Message] {
			seenMsg[is.Message] = true
			res.Messages = append(res.Messages, is.Message)
		}
		if !seenField[is.Field] {
			seenField[is.Field] = true
			res.InvalidFields = append(res.InvalidFields, is.Field)
		}
	}
	return res
}

func (s *RunService) ensureResponse(ctx context.Context, state *model.SessionState, userID string) error {
	if state.ResponseID != "" {
		return nil
	}
	id, err := s.responses.Create(ctx, state.SurveyID, userID, map[string]any{})
	if err != nil {
		return errors.Wrap(err, "create response")
	}
	state.ResponseID = id
	s.broadcaster.BroadcastToSurvey(state.SurveyID, EventResponseStarted, ProgressEvent{
		SessionID: state.ID, ResponseID: id,
	})
	return nil
}

// selection returns the non-blank option codes of a stored choice answer
func selection(v any) []string {
	var out []string
	for _, s := range model.ToStrings(v) {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// saveStep normalizes the step's submission, persists it together with the
// keys it no longer owns, and mirrors it into the session answers.
func (s *RunService) saveStep(ctx context.Context, state *model.SessionState, sv *model.Survey, step *model.Step, w *model.RotationWrapper, body map[string]any) error {
	raw, ok := normalizer.RawValue(step, body)
	if !ok {
		return nil
	}
	scope := model.ScopeFor(step, w)
	written := normalizer.Written(normalizer.Normalize(step, raw, scope))
	values := normalizer.Values(written)

	var keysToDelete []string
	for _, k := range normalizer.OwnedDBKeys(step, scope) {
		if _, ok := values[k]; !ok {
			keysToDelete = append(keysToDelete, k)
		}
	}

	main := normalizer.MainValue(step, body, raw)
	if w == nil && step.Type.IsChoice() {
		previous := selection(state.Answers[scope.SessionID])
		keysToDelete = append(keysToDelete, rotation.Invalidate(state, sv, step, previous, selection(main))...)
	}

	if err := s.responses.AddAnswer(ctx, state.ResponseID, values, keysToDelete); err != nil {
		return errors.Wrapf(err, "save answers of %s", scope.SessionID)
	}

	for _, code := range step.OptionCodes() {
		state.DeleteAnswers(func(k string) bool { return model.BelongsToOption(k, scope.SessionID, code) })
	}
	state.Answers[scope.SessionID] = main
	for _, f := range written {
		if f.SessionKey != "" && f.SessionKey != scope.SessionID {
			state.Answers[f.SessionKey] = f.Value
		}
	}
	return nil
}

// previous rewinds one history entry. The entry of the step being left is
// dropped first; a rotation entry rebuilds its queue from that instance on.
func (s *RunService) previous(state *model.SessionState, sv *model.Survey) string {
	if len(state.History) == 0 {
		return state.CurrentStepID
	}
	if n := len(state.History); state.History[n-1].Key() == state.CurrentEvent().Key() {
		state.History = state.History[:n-1]
	}
	if len(state.History) == 0 {
		return state.CurrentStepID
	}

	prev := state.History[len(state.History)-1]
	switch {
	case prev.Kind == model.EventRotation:
		rotation.Rebuild(state, sv, prev)
	case sv.IsRotationParent(prev.StepID):
		rotation.ResetParent(state, prev.StepID)
	default:
		state.ClearRotation()
	}
	state.CurrentStepID = prev.StepID
	return prev.StepID
}

// resolveNext picks the step after current. A navigation rule pointing away
// from the redirection wins over rotation; otherwise the rotation starts or
// advances, and the navigation target is the fallback.
func (s *RunService) resolveNext(state *model.SessionState, sv *model.Survey, current *model.Step, w *model.RotationWrapper) string {
	key := model.ScopeFor(current, w).SessionID
	target := navigation.Resolve(current, state.Answers, sv.Steps, navigation.WithAnswerKey(key))
	if target != "" && target != current.Redirection {
		if w != nil {
			state.ClearRotation()
		}
		return target
	}

	rotation.Refresh(state, current.ID)
	if !state.InRotation() {
		if next, ok := rotation.Init(state, sv, current); ok && next != "" {
			return next
		}
	}
	if next, ok := rotation.Advance(state, sv); ok {
		return next
	}
	return target
}

// Restart clears the answers of the session's response and rewinds it to the
// first step. The response document is kept.
func (s *RunService) Restart(ctx context.Context, surveyID string, state *model.SessionState) error {
	state.Init()
	if state.SurveyID == "" {
		state.SurveyID = surveyID
	}
	if state.ResponseID != "" {
		resp, err := s.responses.GetByID(ctx, state.ResponseID)
		if err != nil {
			return errors.Wrap(err, "load response")
		}
		switch {
		case resp == nil || resp.Finished:
			state.ResponseID = ""
		case len(resp.Answers) > 0:
			keys := make([]string, 0, len(resp.Answers))
			for k := range resp.Answers {
				keys = append(keys, k)
			}
			if err := s.responses.DeleteAnswers(ctx, state.ResponseID, keys); err != nil {
				return errors.Wrap(err, "clear response")
			}
		}
	}
	state.Reset()
	s.broadcaster.BroadcastToSurvey(state.SurveyID, EventSurveyRestarted, ProgressEvent{
		SessionID: state.ID, ResponseID: state.ResponseID,
	})
	return nil
}
