package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"surveyrun/internal/model"
)

func TestAnswerUpdateSetWinsOverUnset(t *testing.T) {
	now := time.Unix(100, 0)
	update := answerUpdate(map[string]any{"Q1": "a", "Q2_pr_1": "x"}, []string{"Q2_pr_1", "Q2_pr_2"}, now)

	assert.Equal(t, bson.M{
		"$set":   bson.M{"updatedAt": now, "answers.Q1": "a", "answers.Q2_pr_1": "x"},
		"$unset": bson.M{"answers.Q2_pr_2": ""},
	}, update)
}

func TestAnswerUpdateWithoutDeletions(t *testing.T) {
	update := answerUpdate(map[string]any{"Q1": "a"}, nil, time.Unix(0, 0))
	assert.NotContains(t, update, "$unset")
}

func TestMemoryResponseRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryResponseRepository()

	id, err := repo.Create(ctx, "s", "", map[string]any{"seed": "1"})
	require.NoError(t, err)

	require.NoError(t, repo.AddAnswer(ctx, id, map[string]any{"Q1": "a", "Q2": "b"}, []string{"seed", "Q2"}))
	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Q1": "a", "Q2": "b"}, got.Answers)
	assert.Equal(t, model.AnonymousUser, got.UserID)

	require.NoError(t, repo.DeleteAnswers(ctx, id, []string{"Q1"}))
	got, _ = repo.GetByID(ctx, id)
	assert.Equal(t, map[string]any{"Q2": "b"}, got.Answers)

	got.Answers["mutated"] = true
	again, _ := repo.GetByID(ctx, id)
	assert.NotContains(t, again.Answers, "mutated")

	err = repo.AddAnswer(ctx, "missing", nil, nil)
	assert.True(t, errors.Is(err, ErrResponseNotFound))

	missing, err := repo.GetByID(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryResponseRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryResponseRepository()
	clock := time.Unix(1000, 0)
	repo.now = func() time.Time { return clock }

	old, _ := repo.Create(ctx, "s", "u", nil)
	done, _ := repo.Create(ctx, "s", "u", nil)
	require.NoError(t, repo.MarkFinished(ctx, done))
	clock = clock.Add(time.Hour)
	fresh, _ := repo.Create(ctx, "s", "u", nil)
	_, _ = repo.Create(ctx, "other", "u", nil)

	list, err := repo.ListBySurvey(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, fresh, list[2].ID)

	n, err := repo.PurgeAbandoned(ctx, clock.Add(-time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	gone, _ := repo.GetByID(ctx, old)
	assert.Nil(t, gone)
	kept, _ := repo.GetByID(ctx, done)
	require.NotNil(t, kept)
	assert.True(t, kept.Finished)
	assert.NotNil(t, kept.FinishedAt)
}

const surveyJSON = `{
  "id": "demo",
  "title": "Demo",
  "steps": [
    {"id": "q1", "type": "single_choice", "page": 1, "redirection": "FIN",
     "options": [{"codeItem": 1, "label": "Yes"}, {"codeItem": "2", "label": "No"}]}
  ]
}`

const surveyYAML = `
title: From yaml
steps:
  - id: q1
    type: text
    page: 1
    redirection: FIN
`

func TestSurveyFileRepo(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.json"), []byte(surveyJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte(surveyYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	repo := NewSurveyFileRepo(dir)

	sv, err := repo.GetByID(ctx, "demo")
	require.NoError(t, err)
	require.NotNil(t, sv)
	assert.Equal(t, []string{"1", "2"}, sv.Steps[0].OptionCodes())

	sv, err = repo.GetByID(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, "other", sv.ID)
	assert.Equal(t, "From yaml", sv.Title)

	sv, err = repo.GetByID(ctx, "../demo")
	require.NoError(t, err)
	assert.Nil(t, sv)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "demo", list[0].ID)

	created := &model.Survey{ID: "new", Steps: []*model.Step{{ID: "a", Type: model.StepText}}}
	require.NoError(t, repo.Upsert(ctx, created))
	sv, err = repo.GetByID(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "a", sv.Steps[0].ID)
}

func TestSurveyFileRepoRejectsBrokenDefinitions(t *testing.T) {
	dir := t.TempDir()
	broken := `{"id":"bad","steps":[{"id":"a","redirection":"ghost"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(broken), 0o644))

	_, err := NewSurveyFileRepo(dir).GetByID(context.Background(), "bad")
	var defErr *model.DefinitionError
	require.ErrorAs(t, err, &defErr)
	assert.Contains(t, defErr.Problems[0], "ghost")
}

func TestTableFileRepo(t *testing.T) {
	dir := t.TempDir()
	doc := `{"communes":[{"_id":"75056","nom":"Paris"},{"_id":"69123","nom":"Lyon"}],"meta":{"v":1}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "communes.json"), []byte(doc), 0o644))

	repo := NewTableFileRepo(dir)
	rows, err := repo.Load("communes")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Lyon", rows[1]["nom"])

	rows, err = repo.Load("unknown")
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, os.Remove(filepath.Join(dir, "communes.json")))
	rows, err = repo.Load("communes")
	require.NoError(t, err)
	assert.Len(t, rows, 2, "served from cache")
}
