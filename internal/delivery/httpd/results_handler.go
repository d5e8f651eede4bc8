package httpd

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eduscan/exam-checker/grading-service/internal/service"
)

func (h *Handler) GetResults(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "Session ID is required", nil)
		return
	}

	ctx := r.Context()
	response, err := h.resultsService.GetResults(ctx, sessionID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) GetResultErrors(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "Session ID is required", nil)
		return
	}

	ctx := r.Context()
	response, err := h.resultsService.GetResultErrors(ctx, sessionID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}
