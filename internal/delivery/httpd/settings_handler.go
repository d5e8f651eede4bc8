package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/service"
)

func (h *Handler) GetPromptSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := h.settingsService.GetPromptSettings(ctx)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) UpdatePromptSettings(w http.ResponseWriter, r *http.Request) {
	// Читаем JSON запрос
	var req models.PromptSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "Invalid request body", nil)
		return
	}

	// Сохраняем шаблоны промптов
	ctx := r.Context()
	settings, err := h.settingsService.UpdatePromptSettings(ctx, &req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, settings)
}
