package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/service"
)

func (h *Handler) GradeSingle(w http.ResponseWriter, r *http.Request) {
	// Читаем JSON запрос
	var req models.GradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, service.CodeValidation, "Invalid request body", nil)
		return
	}

	// Запускаем проверку работы
	ctx := r.Context()
	response, err := h.gradingService.GradeSession(ctx, &req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}
