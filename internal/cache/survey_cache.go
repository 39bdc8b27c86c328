package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"surveyrun/internal/model"
)

// SurveyCache holds decoded survey definitions
type SurveyCache interface {
	Get(ctx context.Context, id string) (*model.Survey, error)
	Set(ctx context.Context, survey *model.Survey) error
	Invalidate(ctx context.Context, id string) error
}

type surveyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSurveyCache creates a Redis-backed definition cache
func NewSurveyCache(client *redis.Client, ttl time.Duration) SurveyCache {
	return &surveyCache{
		client: client,
		ttl:    ttl,
	}
}

func surveyKey(id string) string {
	return fmt.Sprintf("survey:%s:definition", id)
}

func (c *surveyCache) Get(ctx context.Context, id string) (*model.Survey, error) {
	data, err := c.client.Get(ctx, surveyKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get survey definition")
	}
	var survey model.Survey
	if err := json.Unmarshal(data, &survey); err != nil {
		return nil, errors.Wrap(err, "decode survey definition")
	}
	return &survey, nil
}

func (c *surveyCache) Set(ctx context.Context, survey *model.Survey) error {
	data, err := json.Marshal(survey)
	if err != nil {
		return errors.Wrap(err, "encode survey definition")
	}
	return errors.Wrap(c.client.Set(ctx, surveyKey(survey.ID), data, c.ttl).Err(), "set survey definition")
}

func (c *surveyCache) Invalidate(ctx context.Context, id string) error {
	return errors.Wrap(c.client.Del(ctx, surveyKey(id)).Err(), "delete survey definition")
}

// memorySurveyCache keeps definitions in process
type memorySurveyCache struct {
	mu      sync.RWMutex
	surveys map[string]*model.Survey
}

// NewMemorySurveyCache creates an in-process definition cache for test mode
func NewMemorySurveyCache() SurveyCache {
	return &memorySurveyCache{surveys: map[string]*model.Survey{}}
}

func (c *memorySurveyCache) Get(_ context.Context, id string) (*model.Survey, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.surveys[id], nil
}

func (c *memorySurveyCache) Set(_ context.Context, survey *model.Survey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surveys[survey.ID] = survey
	return nil
}

func (c *memorySurveyCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.surveys, id)
	return nil
}
