package service

import (
	"net/http"
)

// Коды ошибок, уходящие клиенту в конверте ошибки.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeOrderIndexTaken    = "ORDER_INDEX_TAKEN"
	CodeNonContiguousOrder = "NON_CONTIGUOUS_ORDER_INDEX"
)

// ValidationError — некорректный запрос. Status различает эндпоинты: часть
// отвечает 400, часть исторически 422.
type ValidationError struct {
	Status  int
	Code    string
	Message string
	Details map[string]interface{}
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewBadRequest возвращает ошибку валидации со статусом 400.
func NewBadRequest(message string) *ValidationError {
	return &ValidationError{Status: http.StatusBadRequest, Code: CodeValidation, Message: message}
}

// NewUnprocessable возвращает ошибку валидации со статусом 422.
func NewUnprocessable(message string) *ValidationError {
	return &ValidationError{Status: http.StatusUnprocessableEntity, Code: CodeValidation, Message: message}
}

// NotFoundError — запрошенная сущность отсутствует.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return e.Message
}

// ErrSessionNotFound создаёт типовую ошибку отсутствующей сессии.
func ErrSessionNotFound() *NotFoundError {
	return &NotFoundError{Message: "session_id not found"}
}

// PersistenceError — запись в хранилище не удалась после всех попыток.
// Фатальна для всего запроса на грейдинг.
type PersistenceError struct {
	Message string
	Err     error
}

func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
