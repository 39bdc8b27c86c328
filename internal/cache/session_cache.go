package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"surveyrun/internal/model"
)

// SessionStore keeps the per-respondent run state between requests
type SessionStore interface {
	// Get returns nil, nil when the session does not exist or expired
	Get(ctx context.Context, surveyID, sessionID string) (*model.SessionState, error)
	Save(ctx context.Context, state *model.SessionState) error
	Delete(ctx context.Context, surveyID, sessionID string) error
}

type sessionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionCache creates a Redis-backed session store
func NewSessionCache(client *redis.Client, ttl time.Duration) SessionStore {
	return &sessionCache{
		client: client,
		ttl:    ttl,
	}
}

func sessionKey(surveyID, sessionID string) string {
	return fmt.Sprintf("survey:%s:session:%s", surveyID, sessionID)
}

func encodeSession(state *model.SessionState) ([]byte, error) {
	data, err := json.Marshal(state)
	return data, errors.Wrap(err, "encode session")
}

func decodeSession(data []byte) (*model.SessionState, error) {
	var state model.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	state.Init()
	return &state, nil
}

func (c *sessionCache) Get(ctx context.Context, surveyID, sessionID string) (*model.SessionState, error) {
	data, err := c.client.Get(ctx, sessionKey(surveyID, sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	return decodeSession(data)
}

func (c *sessionCache) Save(ctx context.Context, state *model.SessionState) error {
	state.UpdatedAt = time.Now()
	data, err := encodeSession(state)
	if err != nil {
		return err
	}
	return errors.Wrap(c.client.Set(ctx, sessionKey(state.SurveyID, state.ID), data, c.ttl).Err(), "set session")
}

func (c *sessionCache) Delete(ctx context.Context, surveyID, sessionID string) error {
	return errors.Wrap(c.client.Del(ctx, sessionKey(surveyID, sessionID)).Err(), "delete session")
}
