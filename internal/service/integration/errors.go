package integration

import (
	"fmt"
	"net/http"
	"strconv"
)

// UpstreamError — ответ удалённого API, который не удалось превратить в
// завершение: не-2xx после всех повторов либо нечитаемое тело при 200.
// Статус и усечённое тело доносятся до клиента как есть, для 429 вместе
// с Retry-After.
type UpstreamError struct {
	Status     int
	RetryAfter string
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("openrouter returned status %d: %s", e.Status, e.Body)
}

func (e *UpstreamError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// RetryAfterSeconds переводит заголовок Retry-After в секунды ожидания.
// Отсутствующее или нечитаемое значение считается двумя секундами.
func (e *UpstreamError) RetryAfterSeconds() int {
	seconds, err := strconv.Atoi(e.RetryAfter)
	if err != nil || seconds <= 0 {
		return 2
	}
	return seconds
}

// ConfigError — отсутствующий обязательный параметр окружения,
// например ключ API.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
