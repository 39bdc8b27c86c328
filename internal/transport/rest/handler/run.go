package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"surveyrun/internal/cache"
	"surveyrun/internal/model"
	"surveyrun/internal/service"
	"surveyrun/internal/transport/rest/middleware"
)

// RunHandler handles respondent navigation endpoints
type RunHandler struct {
	runSvc   *service.RunService
	stepSvc  *service.StepService
	sessions cache.SessionStore
	log      zerolog.Logger
}

// NewRunHandler creates a new run handler
func NewRunHandler(runSvc *service.RunService, stepSvc *service.StepService, sessions cache.SessionStore, log zerolog.Logger) *RunHandler {
	return &RunHandler{
		runSvc:   runSvc,
		stepSvc:  stepSvc,
		sessions: sessions,
		log:      log,
	}
}

func (h *RunHandler) loadSession(ctx context.Context, surveyID, sessionID string) (*model.SessionState, error) {
	state, err := h.sessions.Get(ctx, surveyID, sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = model.NewSessionState(sessionID, surveyID)
	}
	return state, nil
}

// fail maps service errors onto status codes; anything unexpected is logged and hidden
func (h *RunHandler) fail(w http.ResponseWriter, surveyID string, err error) {
	switch {
	case errors.Is(err, service.ErrSurveyNotFound):
		writeError(w, http.StatusNotFound, "survey not found")
	case errors.Is(err, service.ErrStepNotFound):
		writeError(w, http.StatusNotFound, "step not found")
	default:
		h.log.Error().Err(err).Str("survey", surveyID).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Run handles POST /v1/surveys/{surveyId}/run
func (h *RunHandler) Run(w http.ResponseWriter, r *http.Request) {
	surveyID := mux.Vars(r)["surveyId"]
	sessionID := middleware.GetSessionID(r.Context())

	body, err := decodeBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := h.loadSession(r.Context(), surveyID, sessionID)
	if err != nil {
		h.fail(w, surveyID, err)
		return
	}

	res, err := h.runSvc.Run(r.Context(), service.RunRequest{
		SurveyID: surveyID,
		Action:   service.ParseAction(body),
		Body:     body,
		Session:  state,
	})
	if err != nil {
		h.fail(w, surveyID, err)
		return
	}

	if res.Outcome == service.OutcomeFinished {
		if err := h.sessions.Delete(r.Context(), surveyID, sessionID); err != nil {
			h.log.Warn().Err(err).Str("session", sessionID).Msg("failed to drop finished session")
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"finished":    true,
			"redirectUrl": fmt.Sprintf("/survey/%s/end", surveyID),
			"exportUrl":   fmt.Sprintf("/v1/responses/%s/export", res.ResponseID),
		})
		return
	}

	if err := h.sessions.Save(r.Context(), state); err != nil {
		h.fail(w, surveyID, err)
		return
	}

	if res.Outcome == service.OutcomeValidationError {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":       false,
			"messages":      res.Messages,
			"invalidFields": res.InvalidFields,
			"currentStepId": res.CurrentStepID,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"nextStepId": res.NextStepID,
	})
}

// Current handles GET /v1/surveys/{surveyId}/current
func (h *RunHandler) Current(w http.ResponseWriter, r *http.Request) {
	surveyID := mux.Vars(r)["surveyId"]
	sessionID := middleware.GetSessionID(r.Context())

	state, err := h.loadSession(r.Context(), surveyID, sessionID)
	if err != nil {
		h.fail(w, surveyID, err)
		return
	}

	view, err := h.stepSvc.Current(r.Context(), surveyID, state)
	if err != nil {
		h.fail(w, surveyID, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// Step handles GET /v1/surveys/{surveyId}/steps/{stepId}
func (h *RunHandler) Step(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	surveyID := vars["surveyId"]
	sessionID := middleware.GetSessionID(r.Context())

	state, err := h.loadSession(r.Context(), surveyID, sessionID)
	if err != nil {
		h.fail(w, surveyID, err)
		return
	}

	view, err := h.stepSvc.Get(r.Context(), surveyID, vars["stepId"], state)
	if err != nil {
		h.fail(w, surveyID, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// Restart handles POST /v1/surveys/{surveyId}/restart
func (h *RunHandler) Restart(w http.ResponseWriter, r *http.Request) {
	surveyID := mux.Vars(r)["surveyId"]
	sessionID := middleware.GetSessionID(r.Context())

	state, err := h.loadSession(r.Context(), surveyID, sessionID)
	if err != nil {
		h.fail(w, surveyID, err)
		return
	}

	if err := h.runSvc.Restart(r.Context(), surveyID, state); err != nil {
		h.fail(w, surveyID, err)
		return
	}
	if err := h.sessions.Save(r.Context(), state); err != nil {
		h.fail(w, surveyID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
