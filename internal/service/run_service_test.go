package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveyrun/internal/model"
)

func (h *harness) next(t *testing.T, state *model.SessionState, body map[string]any) *Result {
	t.Helper()
	res, err := h.run.Run(context.Background(), RunRequest{SurveyID: state.SurveyID, Action: ActionNext, Body: body, Session: state})
	require.NoError(t, err)
	return res
}

func (h *harness) prev(t *testing.T, state *model.SessionState) *Result {
	t.Helper()
	res, err := h.run.Run(context.Background(), RunRequest{SurveyID: state.SurveyID, Action: ActionPrev, Session: state})
	require.NoError(t, err)
	return res
}

func (h *harness) answers(t *testing.T, state *model.SessionState) map[string]any {
	t.Helper()
	resp, err := h.responses.GetByID(context.Background(), state.ResponseID)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp.Answers
}

func TestParseAction(t *testing.T) {
	assert.Equal(t, ActionNext, ParseAction(map[string]any{}))
	assert.Equal(t, ActionPrev, ParseAction(map[string]any{"_action": "prev"}))
	assert.Equal(t, ActionPrev, ParseAction(map[string]any{"action": "PREV"}))
	assert.Equal(t, ActionNext, ParseAction(map[string]any{"_action": "next", "action": "prev"}))
	assert.Equal(t, ActionNext, ParseAction(map[string]any{"_action": "sideways"}))
}

func TestRunFullJourney(t *testing.T) {
	h := newHarness(tripSurvey())
	state := model.NewSessionState("sid", "trip")

	res := h.next(t, state, map[string]any{"name": "Ann"})
	assert.Equal(t, OutcomeNext, res.Outcome)
	assert.Equal(t, "p", res.NextStepID)
	assert.NotEmpty(t, state.ResponseID)

	res = h.next(t, state, map[string]any{"p": []any{"A", "B"}})
	assert.Equal(t, "s1", res.NextStepID)
	require.True(t, state.InRotation())
	assert.Len(t, state.RotationQueue, 2)
	assert.Equal(t, "How far by Car?", state.RotationQueue[0].Step.Label)

	res = h.next(t, state, map[string]any{"s1": "10km"})
	assert.Equal(t, "s1", res.NextStepID)
	assert.Equal(t, "B", state.RotationQueue[0].OptionCode)

	res = h.next(t, state, map[string]any{"s1": "20km"})
	assert.Equal(t, "end", res.NextStepID)
	assert.False(t, state.InRotation())

	res = h.next(t, state, map[string]any{"end": ""})
	assert.Equal(t, OutcomeFinished, res.Outcome)

	assert.Equal(t, map[string]any{"name": "Ann", "P": "A/B", "S1_A": "10km", "S1_B": "20km"}, h.answers(t, state))
	resp, _ := h.responses.GetByID(context.Background(), state.ResponseID)
	assert.True(t, resp.Finished)

	types := h.broadcaster.types()
	assert.Equal(t, EventResponseStarted, types[0])
	assert.Equal(t, EventSurveyFinished, types[len(types)-1])
}

func TestRunValidationErrorKeepsPosition(t *testing.T) {
	h := newHarness(tripSurvey())
	state := model.NewSessionState("sid", "trip")
	h.next(t, state, map[string]any{"name": "Ann"})
	history := append([]model.NavigationEvent(nil), state.History...)

	res := h.next(t, state, map[string]any{"p": []any{"O"}, "precision_O": "   "})

	assert.Equal(t, OutcomeValidationError, res.Outcome)
	assert.Equal(t, "p", res.CurrentStepID)
	assert.Equal(t, []string{"p_pr_O"}, res.InvalidFields)
	assert.Equal(t, []string{`Transport > Precision for "Other"`}, res.Messages)
	assert.Equal(t, "p", state.CurrentStepID)
	assert.Equal(t, history, state.History)
	assert.False(t, state.InRotation())

	got := h.answers(t, state)
	assert.Equal(t, "O", got["P"])
	assert.NotContains(t, got, "P_pr_O")
}

func TestRunRequiredFieldMissing(t *testing.T) {
	h := newHarness(tripSurvey())
	state := model.NewSessionState("sid", "trip")

	res := h.next(t, state, map[string]any{"name": "  "})
	assert.Equal(t, OutcomeValidationError, res.Outcome)
	assert.Equal(t, []string{"name"}, res.InvalidFields)
	assert.Equal(t, []string{"Name"}, res.Messages)
	assert.NotContains(t, h.answers(t, state), "name")
}

func TestRunPrecisionIsPersistedAndRemoved(t *testing.T) {
	h := newHarness(tripSurvey())
	state := model.NewSessionState("sid", "trip")
	h.next(t, state, map[string]any{"name": "Ann"})

	h.next(t, state, map[string]any{"p": []any{"O"}, "precision_O": "Scooter"})
	assert.Equal(t, "Scooter", h.answers(t, state)["P_pr_O"])
	assert.Equal(t, "Scooter", state.Answers["p_pr_O"])

	h.prev(t, state)
	require.Equal(t, "p", state.CurrentStepID)

	h.next(t, state, map[string]any{"p": []any{"A"}})
	assert.NotContains(t, h.answers(t, state), "P_pr_O")
	assert.NotContains(t, state.Answers, "p_pr_O")
}

func TestRunResaveIsIdempotent(t *testing.T) {
	h := newHarness(tripSurvey())
	state := model.NewSessionState("sid", "trip")
	h.next(t, state, map[string]any{"name": "Ann"})
	h.next(t, state, map[string]any{"p": []any{"A", "B"}})
	h.next(t, state, map[string]any{"s1": "10km"})
	before := h.answers(t, state)

	h.prev(t, state)
	h.prev(t, state)
	require.Equal(t, "p", state.CurrentStepID)
	h.next(t, state, map[string]any{"p": []any{"A", "B"}})

	assert.Equal(t, before, h.answers(t, state))
	assert.Equal(t, "10km", state.Answers["s1_A"])
	assert.Equal(t, "A", state.RotationQueue[0].OptionCode)
}

func TestRunDeselectionRemovesRotatedAnswers(t *testing.T) {
	h := newHarness(tripSurvey())
	state := model.NewSessionState("sid", "trip")
	h.next(t, state, map[string]any{"name": "Ann"})
	h.next(t, state, map[string]any{"p": []any{"A", "B"}})
	h.next(t, state, map[string]any{"s1": "10km"})
	h.next(t, state, map[string]any{"s1": "20km"})

	h.prev(t, state)
	h.prev(t, state)
	h.prev(t, state)
	require.Equal(t, "p", state.CurrentStepID)
	require.False(t, state.InRotation())

	res := h.next(t, state, map[string]any{"p": []any{"B"}})
	assert.Equal(t, "s1", res.NextStepID)
	require.Len(t, state.RotationQueue, 1)
	assert.Equal(t, "B", state.RotationQueue[0].OptionCode)

	got := h.answers(t, state)
	assert.NotContains(t, got, "S1_A")
	assert.Equal(t, "20km", got["S1_B"])
	assert.NotContains(t, state.Answers, "s1_A")
	assert.Equal(t, "20km", state.Answers["s1_B"])
}

func TestRunPrevReplaysRotation(t *testing.T) {
	h := newHarness(tripSurvey())
	state := model.NewSessionState("sid", "trip")
	h.next(t, state, map[string]any{"name": "Ann"})
	h.next(t, state, map[string]any{"p": []any{"A", "B"}})
	h.next(t, state, map[string]any{"s1": "10km"})
	h.next(t, state, map[string]any{"s1": "20km"})
	require.Equal(t, "end", state.CurrentStepID)

	res := h.prev(t, state)
	assert.Equal(t, "s1", res.NextStepID)
	require.Len(t, state.RotationQueue, 1)
	assert.Equal(t, "B", state.RotationQueue[0].OptionCode)

	res = h.prev(t, state)
	assert.Equal(t, "s1", res.NextStepID)
	require.Len(t, state.RotationQueue, 2)
	assert.Equal(t, "A", state.RotationQueue[0].OptionCode)

	res = h.prev(t, state)
	assert.Equal(t, "p", res.NextStepID)
	assert.False(t, state.InRotation())

	res = h.prev(t, state)
	assert.Equal(t, "name", res.NextStepID)

	res = h.prev(t, state)
	assert.Equal(t, "name", res.NextStepID)
	assert.Empty(t, state.History)
}

func TestRunPrevThenNextIsStable(t *testing.T) {
	h := newHarness(tripSurvey())
	state := model.NewSessionState("sid", "trip")
	h.next(t, state, map[string]any{"name": "Ann"})
	h.next(t, state, map[string]any{"p": []any{"A"}})
	require.Equal(t, "s1", state.CurrentStepID)

	h.prev(t, state)
	res := h.next(t, state, map[string]any{"p": []any{"A"}})
	assert.Equal(t, "s1", res.NextStepID)
	require.Len(t, state.RotationQueue, 1)
	assert.Equal(t, "A", state.RotationQueue[0].OptionCode)

	var keys []string
	for _, e := range state.History {
		keys = append(keys, e.Key())
	}
	assert.Equal(t, []string{"name", "p", "s1_A"}, keys)
}

func TestRunNavigationRuleTakesPrecedence(t *testing.T) {
	sv := &model.Survey{
		ID: "nav",
		Steps: []*model.Step{
			{ID: "q", Type: model.StepSingleChoice, Page: page(1), Redirection: "r",
				Options: []model.Option{{Code: "1"}, {Code: "2"}},
				Navigation: &model.Navigation{Rules: []model.NavRule{
					{If: model.Condition{Operator: model.OpEquals, Value: "2"}, Then: model.NavTarget{GoTo: "skip"}},
				}}},
			{ID: "r", Type: model.StepText, Page: page(2), Redirection: "skip"},
			{ID: "skip", Type: model.StepText, Page: page(3)},
		},
	}
	h := newHarness(sv)

	state := model.NewSessionState("a", "nav")
	assert.Equal(t, "skip", h.next(t, state, map[string]any{"q": "2"}).NextStepID)

	state = model.NewSessionState("b", "nav")
	assert.Equal(t, "r", h.next(t, state, map[string]any{"q": "1"}).NextStepID)
}

func TestRunNavigationEscapeLeavesRotation(t *testing.T) {
	sv := tripSurvey()
	child, _ := sv.Step("s1")
	child.Navigation = &model.Navigation{Rules: []model.NavRule{
		{If: model.Condition{Operator: model.OpEquals, Value: "stop"}, Then: model.NavTarget{GoTo: "end"}},
	}}
	h := newHarness(sv)
	state := model.NewSessionState("sid", "trip")
	h.next(t, state, map[string]any{"name": "Ann"})
	h.next(t, state, map[string]any{"p": []any{"A", "B"}})

	res := h.next(t, state, map[string]any{"s1": "stop"})
	assert.Equal(t, "end", res.NextStepID)
	assert.False(t, state.InRotation())
	assert.Equal(t, "stop", h.answers(t, state)["S1_A"])
}

func TestRunEmptyRotationFollowsRedirection(t *testing.T) {
	sv := tripSurvey()
	parent, _ := sv.Step("p")
	parent.Required = false
	h := newHarness(sv)
	state := model.NewSessionState("sid", "trip")
	h.next(t, state, map[string]any{"name": "Ann"})

	res := h.next(t, state, map[string]any{"p": []any{"X"}})
	assert.Equal(t, "end", res.NextStepID)
	assert.False(t, state.InRotation())
	assert.True(t, state.RotationQueueDone["p"])
}

func TestRunUnknownSurvey(t *testing.T) {
	h := newHarness()
	_, err := h.run.Run(context.Background(), RunRequest{SurveyID: "nope", Session: model.NewSessionState("sid", "nope")})
	assert.ErrorIs(t, err, ErrSurveyNotFound)
}

func TestRunUnknownCurrentStep(t *testing.T) {
	h := newHarness(tripSurvey())
	state := model.NewSessionState("sid", "trip")
	state.CurrentStepID = "gone"
	_, err := h.run.Run(context.Background(), RunRequest{SurveyID: "trip", Session: state})
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestRestartClearsAnswers(t *testing.T) {
	h := newHarness(tripSurvey())
	state := model.NewSessionState("sid", "trip")
	h.next(t, state, map[string]any{"name": "Ann"})
	h.next(t, state, map[string]any{"p": []any{"A"}})
	responseID := state.ResponseID

	require.NoError(t, h.run.Restart(context.Background(), "trip", state))
	assert.Equal(t, responseID, state.ResponseID)
	assert.Empty(t, state.Answers)
	assert.Empty(t, state.History)
	assert.False(t, state.InRotation())
	assert.Empty(t, h.answers(t, state))

	res := h.next(t, state, map[string]any{"name": "Bob"})
	assert.Equal(t, "p", res.NextStepID)
	assert.Equal(t, responseID, state.ResponseID)
	assert.Contains(t, h.broadcaster.types(), EventSurveyRestarted)
}

func TestRestartAfterFinishStartsNewResponse(t *testing.T) {
	h := newHarness(tripSurvey())
	state := model.NewSessionState("sid", "trip")
	h.next(t, state, map[string]any{"name": "Ann"})
	h.next(t, state, map[string]any{"p": []any{"A"}})
	h.next(t, state, map[string]any{"s1": "1km"})
	require.Equal(t, OutcomeFinished, h.next(t, state, map[string]any{}).Outcome)
	finished := state.ResponseID

	require.NoError(t, h.run.Restart(context.Background(), "trip", state))
	assert.Empty(t, state.ResponseID)

	h.next(t, state, map[string]any{"name": "Ann"})
	assert.NotEqual(t, finished, state.ResponseID)

	old, _ := h.responses.GetByID(context.Background(), finished)
	assert.Equal(t, "Ann", old.Answers["name"])
}

func TestRunPrevReplaysTwoStepRotation(t *testing.T) {
	sv := tripSurvey()
	s2 := &model.Step{ID: "s2", IDDB: "S2", Type: model.StepText, Label: "How long by TRANSPORT?", RepeatFor: "p"}
	sv.Steps = append(sv.Steps[:3], append([]*model.Step{s2}, sv.Steps[3:]...)...)
	h := newHarness(sv)
	state := model.NewSessionState("sid", "trip")

	h.next(t, state, map[string]any{"name": "Ann"})
	h.next(t, state, map[string]any{"p": []any{"A", "B"}})
	h.next(t, state, map[string]any{"s1": "10km"})
	h.next(t, state, map[string]any{"s2": "15min"})
	res := h.next(t, state, map[string]any{"s1": "20km"})
	require.Equal(t, "s2", res.NextStepID)

	var keys []string
	for _, e := range state.History {
		keys = append(keys, e.Key())
	}
	require.Equal(t, []string{"name", "p", "s1_A", "s2_A", "s1_B"}, keys)

	res = h.prev(t, state)
	assert.Equal(t, "s1", res.NextStepID)
	require.NotEmpty(t, state.RotationQueue)
	assert.Equal(t, "B", state.RotationQueue[0].OptionCode)

	res = h.prev(t, state)
	assert.Equal(t, "s2", res.NextStepID)
	require.Len(t, state.RotationQueue, 3)
	assert.Equal(t, "A", state.RotationQueue[0].OptionCode)

	res = h.next(t, state, map[string]any{"s2": "25min"})
	assert.Equal(t, "s1", res.NextStepID)
	require.Len(t, state.RotationQueue, 2)
	assert.Equal(t, "B", state.RotationQueue[0].OptionCode)
	assert.Equal(t, "25min", h.answers(t, state)["S2_A"])
}

func TestRunRequiredGridRowRejectsSuppressedCells(t *testing.T) {
	disabled := false
	sv := &model.Survey{
		ID: "mood",
		Steps: []*model.Step{
			{ID: "g", Type: model.StepGrid, Page: page(1), Label: "Mood", Redirection: "end",
				Rows: []model.GridRow{{ID: "r1", Label: "Today", Required: true, Cells: map[string]model.GridCell{"ok": {Enabled: &disabled}}}},
				Responses: []model.GridResponse{
					{ID: "ok", Input: model.GridInput{Type: model.InputRadio, Axis: model.AxisRow}},
				}},
			{ID: "end", Type: model.StepText, Page: page(2)},
		},
	}

	for _, submitted := range []string{"ok", "bogus"} {
		t.Run(submitted, func(t *testing.T) {
			h := newHarness(sv)
			state := model.NewSessionState("sid", "mood")

			res := h.next(t, state, map[string]any{"r1": submitted})
			assert.Equal(t, OutcomeValidationError, res.Outcome)
			assert.Equal(t, []string{"r1"}, res.InvalidFields)
			assert.Equal(t, "g", state.CurrentStepID)
			assert.Empty(t, h.answers(t, state))
		})
	}
}
