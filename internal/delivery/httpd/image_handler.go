package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/internal/service"
)

func (h *Handler) RegisterImage(w http.ResponseWriter, r *http.Request) {
	// Читаем JSON запрос
	var req models.ImageRegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "Invalid request body", nil)
		return
	}

	// Регистрируем страницу
	ctx := r.Context()
	if err := h.imageService.RegisterImage(ctx, &req); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.OkResponse{OK: true})
}

func (h *Handler) CreateSignedURL(w http.ResponseWriter, r *http.Request) {
	// Читаем JSON запрос
	var req models.SignedURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, service.CodeValidation, "Invalid request body", nil)
		return
	}

	// Выдаем подписанную ссылку на загрузку
	ctx := r.Context()
	response, err := h.imageService.CreateSignedUploadURL(ctx, &req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response)
}
