package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/service"
)

func (h *Handler) ConfigureQuestions(w http.ResponseWriter, r *http.Request) {
	// Читаем JSON запрос
	var req models.QuestionConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, service.CodeValidation, "Invalid request body", nil)
		return
	}

	// Сохраняем конфигурацию вопросов
	ctx := r.Context()
	if err := h.questionService.ConfigureQuestions(ctx, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.OkResponse{OK: true})
}
