package service

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveyrun/internal/model"
	"surveyrun/internal/repository"
)

func TestKeyGuide(t *testing.T) {
	type row struct{ Key, StepID, Kind, Option string }
	var got []row
	for _, info := range KeyGuide(tripSurvey()) {
		got = append(got, row{info.Key, info.StepID, info.Kind, info.Option})
	}

	want := []row{
		{"name", "name", "plain", ""},
		{"P", "p", "plain", ""},
		{"P_pr_O", "p", "precision", "O"},
		{"S1_A", "s1", "rotation", "A"},
		{"S1_B", "s1", "rotation", "B"},
		{"S1_O", "s1", "rotation", "O"},
		{"end", "end", "plain", ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("guide mismatch (-want +got):\n%s", diff)
	}
}

func journey(t *testing.T, h *harness, id string) *model.SessionState {
	t.Helper()
	state := model.NewSessionState(id, "trip")
	h.next(t, state, map[string]any{"name": "Ann"})
	h.next(t, state, map[string]any{"p": []any{"A", "B"}})
	h.next(t, state, map[string]any{"s1": "10km"})
	h.next(t, state, map[string]any{"s1": "20km"})
	return state
}

func TestResponseWorkbook(t *testing.T) {
	h := newHarness(tripSurvey())
	state := journey(t, h, "sid")
	require.NoError(t, h.responses.AddAnswer(context.Background(), state.ResponseID, map[string]any{"legacy": "x"}, nil))

	exports := NewExportService(h.survey, h.responses, zerolog.Nop())
	f, err := exports.ResponseWorkbook(context.Background(), state.ResponseID)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetAnswers)
	require.NoError(t, err)
	want := [][]string{
		{"key", "step", "kind", "option", "value"},
		{"name", "name", "plain", "", "Ann"},
		{"P", "p", "plain", "", "A/B"},
		{"S1_A", "s1", "rotation", "A", "10km"},
		{"S1_B", "s1", "rotation", "B", "20km"},
		{"legacy", "", "unknown", "", "x"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("answers sheet mismatch (-want +got):\n%s", diff)
	}

	keys, err := f.GetRows(SheetKeys)
	require.NoError(t, err)
	assert.Len(t, keys, 8)
}

func TestResponseWorkbookUnknownResponse(t *testing.T) {
	h := newHarness(tripSurvey())
	exports := NewExportService(h.survey, h.responses, zerolog.Nop())

	_, err := exports.ResponseWorkbook(context.Background(), "nope")
	assert.ErrorIs(t, err, repository.ErrResponseNotFound)
}

func TestSurveyWorkbook(t *testing.T) {
	h := newHarness(tripSurvey())
	journey(t, h, "one")
	other := model.NewSessionState("two", "trip")
	h.next(t, other, map[string]any{"name": "Bob"})

	exports := NewExportService(h.survey, h.responses, zerolog.Nop())
	f, err := exports.SurveyWorkbook(context.Background(), "trip")
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetResponses)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"responseId", "userId", "finished", "createdAt", "updatedAt", "name", "P", "S1_A", "S1_B"}, rows[0])
	for _, r := range rows[1:] {
		assert.Equal(t, model.AnonymousUser, r[1])
	}
}
