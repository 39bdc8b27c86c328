package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"surveyrun/internal/cache"
	"surveyrun/internal/model"
	"surveyrun/internal/repository"
)

// ErrSurveyNotFound is returned when no definition exists for a survey id
var ErrSurveyNotFound = errors.New("survey not found")

// SurveyService loads survey definitions through an optional cache
type SurveyService struct {
	surveyRepo repository.SurveyRepo
	cache      cache.SurveyCache
	log        zerolog.Logger
}

// NewSurveyService creates a new survey service. surveyCache may be nil.
func NewSurveyService(surveyRepo repository.SurveyRepo, surveyCache cache.SurveyCache, log zerolog.Logger) *SurveyService {
	return &SurveyService{
		surveyRepo: surveyRepo,
		cache:      surveyCache,
		log:        log,
	}
}

// Load returns the definition of id. Cache failures only cost a repository read.
func (s *SurveyService) Load(ctx context.Context, id string) (*model.Survey, error) {
	if s.cache != nil {
		sv, err := s.cache.Get(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("survey", id).Msg("survey cache read failed")
		}
		if sv != nil {
			return sv, nil
		}
	}

	sv, err := s.surveyRepo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "load survey %s", id)
	}
	if sv == nil {
		return nil, errors.Wrap(ErrSurveyNotFound, id)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, sv); err != nil {
			s.log.Warn().Err(err).Str("survey", id).Msg("survey cache write failed")
		}
	}
	return sv, nil
}

// List returns every known definition
func (s *SurveyService) List(ctx context.Context) ([]*model.Survey, error) {
	return s.surveyRepo.List(ctx)
}

// Upsert stores a definition and drops its cached copy
func (s *SurveyService) Upsert(ctx context.Context, sv *model.Survey) error {
	if err := s.surveyRepo.Upsert(ctx, sv); err != nil {
		return err
	}
	if s.cache != nil {
		return s.cache.Invalidate(ctx, sv.ID)
	}
	return nil
}
