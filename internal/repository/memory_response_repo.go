package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"surveyrun/internal/model"
)

// MemoryResponseRepository keeps responses in process memory. It backs MODE_TEST
// and the service tests.
type MemoryResponseRepository struct {
	mu        sync.RWMutex
	responses map[string]*model.Response
	now       func() time.Time
}

// NewMemoryResponseRepository creates an empty in-memory response repository
func NewMemoryResponseRepository() *MemoryResponseRepository {
	return &MemoryResponseRepository{
		responses: make(map[string]*model.Response),
		now:       time.Now,
	}
}

func copyResponse(r *model.Response) *model.Response {
	c := *r
	c.Answers = make(map[string]any, len(r.Answers))
	for k, v := range r.Answers {
		c.Answers[k] = v
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

func (m *MemoryResponseRepository) Create(_ context.Context, surveyID, userID string, initial map[string]any) (string, error) {
	resp := newResponse(surveyID, userID, initial, m.now())
	resp.ID = uuid.NewString()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[resp.ID] = resp
	return resp.ID, nil
}

func (m *MemoryResponseRepository) AddAnswer(_ context.Context, id string, answers map[string]any, keysToDelete []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp, ok := m.responses[id]
	if !ok {
		return errors.Wrap(ErrResponseNotFound, id)
	}
	for _, k := range keysToDelete {
		if _, set := answers[k]; !set {
			delete(resp.Answers, k)
		}
	}
	for k, v := range answers {
		resp.Answers[k] = v
	}
	resp.UpdatedAt = m.now()
	return nil
}

func (m *MemoryResponseRepository) DeleteAnswers(ctx context.Context, id string, keys []string) error {
	return m.AddAnswer(ctx, id, nil, keys)
}

func (m *MemoryResponseRepository) GetByID(_ context.Context, id string) (*model.Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resp, ok := m.responses[id]
	if !ok {
		return nil, nil
	}
	return copyResponse(resp), nil
}

func (m *MemoryResponseRepository) ListBySurvey(_ context.Context, surveyID string) ([]*model.Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Response
	for _, resp := range m.responses {
		if resp.SurveyID == surveyID {
			out = append(out, copyResponse(resp))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryResponseRepository) MarkFinished(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp, ok := m.responses[id]
	if !ok {
		return errors.Wrap(ErrResponseNotFound, id)
	}
	now := m.now()
	resp.Finished = true
	resp.FinishedAt = &now
	resp.UpdatedAt = now
	return nil
}

func (m *MemoryResponseRepository) PurgeAbandoned(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, resp := range m.responses {
		if !resp.Finished && resp.UpdatedAt.Before(before) {
			delete(m.responses, id)
			n++
		}
	}
	return n, nil
}
