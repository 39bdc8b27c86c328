package rest

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"surveyrun/internal/cache"
	"surveyrun/internal/service"
	"surveyrun/internal/transport/rest/handler"
	"surveyrun/internal/transport/rest/middleware"
	"surveyrun/internal/transport/ws"
)

// Container holds all dependencies for the router
type Container struct {
	SurveyService *service.SurveyService
	RunService    *service.RunService
	StepService   *service.StepService
	ExportService *service.ExportService
	Sessions      cache.SessionStore
	WSHub         *ws.Hub
	RateLimiter   *middleware.RateLimiter
	Log           zerolog.Logger

	SessionTTL     time.Duration
	SecureCookies  bool
	AllowedOrigins string
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	surveyHandler := handler.NewSurveyHandler(c.SurveyService, c.Log)
	runHandler := handler.NewRunHandler(c.RunService, c.StepService, c.Sessions, c.Log)
	exportHandler := handler.NewExportHandler(c.ExportService, c.Log)
	wsHandler := ws.NewHandler(c.WSHub, func(req *http.Request, surveyID string) bool {
		_, err := c.SurveyService.Load(req.Context(), surveyID)
		return err == nil
	}, c.Log)

	// Initialize middleware
	sessionMW := middleware.NewSession(c.SessionTTL, c.SecureCookies)
	locks := middleware.NewSessionLocks()

	// CORS middleware (apply first)
	r.Use(corsMiddleware(c.AllowedOrigins))

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/surveys", surveyHandler.List).Methods("GET", "OPTIONS")
	v1.HandleFunc("/surveys/{surveyId}", surveyHandler.Get).Methods("GET", "OPTIONS")
	v1.HandleFunc("/surveys/{surveyId}/export", exportHandler.Survey).Methods("GET", "OPTIONS")
	v1.HandleFunc("/responses/{responseId}/export", exportHandler.Response).Methods("GET", "OPTIONS")

	// WebSocket routes
	v1.HandleFunc("/ws/surveys/{surveyId}/monitor", wsHandler.MonitorWS).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Respondent routes (session cookie, one request at a time per session)
	runRoutes := v1.NewRoute().Subrouter()
	runRoutes.Use(sessionMW.Handle)
	if c.RateLimiter != nil {
		runRoutes.Use(c.RateLimiter.Limit)
	}
	runRoutes.Use(locks.Serialize)

	runRoutes.HandleFunc("/surveys/{surveyId}/run", runHandler.Run).Methods("POST", "OPTIONS")
	runRoutes.HandleFunc("/surveys/{surveyId}/current", runHandler.Current).Methods("GET", "OPTIONS")
	runRoutes.HandleFunc("/surveys/{surveyId}/steps/{stepId}", runHandler.Step).Methods("GET", "OPTIONS")
	runRoutes.HandleFunc("/surveys/{surveyId}/restart", runHandler.Restart).Methods("POST", "OPTIONS")

	return r
}

func corsMiddleware(allowedOrigins string) mux.MiddlewareFunc {
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if allowedOrigins != "*" {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
