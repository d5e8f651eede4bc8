package httpd

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/service"
	"github.com/eduscan/exam-checker/grading-service/internal/service/integration"
)

// Коды ошибок конверта, не привязанные к конкретной проверке.
const (
	codeHTTPError     = "HTTP_ERROR"
	codeInternalError = "INTERNAL_ERROR"
)

type Handler struct {
	sessionService  service.SessionService
	imageService    service.ImageService
	questionService service.QuestionService
	gradingService  service.GradingService
	resultsService  service.ResultsService
	statsService    service.StatsService
	settingsService service.SettingsService
	logger          zerolog.Logger
}

func NewHandler(
	sessionService service.SessionService,
	imageService service.ImageService,
	questionService service.QuestionService,
	gradingService service.GradingService,
	resultsService service.ResultsService,
	statsService service.StatsService,
	settingsService service.SettingsService,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		sessionService:  sessionService,
		imageService:    imageService,
		questionService: questionService,
		gradingService:  gradingService,
		resultsService:  resultsService,
		statsService:    statsService,
		settingsService: settingsService,
		logger:          logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)

	router.Route("/api/v1", func(api chi.Router) {
		api.Post("/sessions", h.CreateSession)

		api.Route("/images", func(r chi.Router) {
			r.Post("/register", h.RegisterImage)
			r.Post("/signed-url", h.CreateSignedURL)
		})

		api.Post("/questions/config", h.ConfigureQuestions)
		api.Post("/grade/single", h.GradeSingle)

		api.Route("/results", func(r chi.Router) {
			r.Get("/errors/{sessionID}", h.GetResultErrors)
			r.Get("/{sessionID}", h.GetResults)
		})

		api.Get("/stats/{sessionID}", h.GetStats)

		api.Route("/settings", func(r chi.Router) {
			r.Get("/prompt", h.GetPromptSettings)
			r.Put("/prompt", h.UpdatePromptSettings)
		})
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"service":   "grading-service",
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError отдаёт конверт ошибки с каррелирующим идентификатором запроса,
// чтобы клиентскую жалобу можно было сопоставить с серверными логами.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	correlationID := middleware.GetReqID(r.Context())
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	if details == nil {
		details = map[string]interface{}{}
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":           code,
			"message":        message,
			"details":        details,
			"correlation_id": correlationID,
		},
	})
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	var notFound *service.NotFoundError
	var perr *service.PersistenceError
	var upstream *integration.UpstreamError
	var confErr *integration.ConfigError

	switch {
	case errors.As(err, &verr):
		writeError(w, r, verr.Status, verr.Code, verr.Message, verr.Details)
	case errors.As(err, &notFound):
		writeError(w, r, http.StatusNotFound, codeHTTPError, notFound.Message, nil)
	case errors.As(err, &upstream):
		if upstream.RetryAfter != "" {
			w.Header().Set("Retry-After", upstream.RetryAfter)
		}
		status := upstream.Status
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		writeError(w, r, status, codeHTTPError, upstream.Error(), nil)
	case errors.As(err, &confErr):
		h.logger.Error().Err(err).Msg("Configuration error")
		writeError(w, r, http.StatusInternalServerError, codeInternalError, confErr.Message, nil)
	case errors.As(err, &perr):
		h.logger.Error().Err(err).Msg("Persistence error")
		writeError(w, r, http.StatusInternalServerError, codeInternalError, perr.Message, nil)
	default:
		h.logger.Error().Err(err).Msg("Service error")
		writeError(w, r, http.StatusInternalServerError, codeInternalError, "Internal server error", nil)
	}
}
