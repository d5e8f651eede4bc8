package httpd

import (
	"net/http"
)

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	// Создаем сессию проверки
	ctx := r.Context()
	response, err := h.sessionService.CreateSession(ctx)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, response)
}
