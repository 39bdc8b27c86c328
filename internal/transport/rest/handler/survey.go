package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"surveyrun/internal/service"
)

// SurveyHandler handles survey definition endpoints
type SurveyHandler struct {
	surveySvc *service.SurveyService
	log       zerolog.Logger
}

// NewSurveyHandler creates a new survey handler
func NewSurveyHandler(surveySvc *service.SurveyService, log zerolog.Logger) *SurveyHandler {
	return &SurveyHandler{
		surveySvc: surveySvc,
		log:       log,
	}
}

// Get handles GET /v1/surveys/{surveyId}
func (h *SurveyHandler) Get(w http.ResponseWriter, r *http.Request) {
	surveyID := mux.Vars(r)["surveyId"]

	survey, err := h.surveySvc.Load(r.Context(), surveyID)
	if errors.Is(err, service.ErrSurveyNotFound) {
		writeError(w, http.StatusNotFound, "survey not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("survey", surveyID).Msg("failed to load survey")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, survey)
}

// List handles GET /v1/surveys
func (h *SurveyHandler) List(w http.ResponseWriter, r *http.Request) {
	surveys, err := h.surveySvc.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list surveys")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	type summary struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Steps int    `json:"steps"`
	}
	out := make([]summary, 0, len(surveys))
	for _, sv := range surveys {
		out = append(out, summary{ID: sv.ID, Title: sv.Title, Steps: len(sv.Steps)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"surveys": out})
}
