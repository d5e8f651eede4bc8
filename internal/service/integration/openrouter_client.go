package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/pkg/gradelog"
	"github.com/eduscan/exam-checker/grading-service/pkg/retry"
	"github.com/eduscan/exam-checker/grading-service/pkg/utils"
)

const upstreamBodyLimit = 1000

type CompletionClient interface {
	Complete(ctx context.Context, model string, messages []models.ChatMessage, reasoning map[string]interface{}, meta CallMeta) (*models.RawCompletion, error)
}

// CallMeta подписывает записи журнала сессии, чтобы запросы разных
// моделей и попыток можно было различить при разборе инцидентов.
type CallMeta struct {
	SessionID  string
	TryIndex   int
	InstanceID string
}

type completionRequest struct {
	Model     string                 `json:"model"`
	Messages  []models.ChatMessage   `json:"messages"`
	Provider  providerRouting        `json:"provider"`
	Reasoning map[string]interface{} `json:"reasoning,omitempty"`
}

type providerRouting struct {
	AllowFallbacks    bool     `json:"allow_fallbacks"`
	RequireParameters bool     `json:"require_parameters,omitempty"`
	Order             []string `json:"order,omitempty"`
}

type openRouterClient struct {
	baseURL  string
	apiKey   string
	referer  string
	appTitle string
	debug    bool
	client   *http.Client
	runner   *retry.Runner
	gradeLog *gradelog.Writer
	logger   zerolog.Logger
}

func NewOpenRouterClient(baseURL, apiKey, referer, appTitle string, timeout time.Duration, retryCount int, debug bool, gradeLog *gradelog.Writer, logger zerolog.Logger) CompletionClient {
	c := &openRouterClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		referer:  referer,
		appTitle: appTitle,
		debug:    debug,
		client: &http.Client{
			Timeout: timeout,
		},
		gradeLog: gradeLog,
		logger:   logger,
	}

	c.runner = retry.NewRunner(retry.Policy{
		MaxAttempts: retryCount,
		Backoff:     backoffFor,
	})

	return c
}

// backoffFor: при 429 ждём Retry-After, растянутый экспоненциально по
// номеру попытки, для остальных ошибок чистую экспоненту от секунды.
func backoffFor(attempt int, err error) time.Duration {
	var upstream *UpstreamError
	if errors.As(err, &upstream) && upstream.RateLimited() {
		return time.Duration(upstream.RetryAfterSeconds()<<uint(attempt)) * time.Second
	}
	return time.Second << uint(attempt)
}

func (c *openRouterClient) Complete(ctx context.Context, model string, messages []models.ChatMessage, reasoning map[string]interface{}, meta CallMeta) (*models.RawCompletion, error) {
	if c.apiKey == "" {
		return nil, &ConfigError{Message: "openrouter api key is not configured"}
	}

	adjustedModel, provider := routeModel(model)
	if adjustedModel != model {
		c.logger.Debug().Str("model", model).Str("adjusted", adjustedModel).Msg("Adjusted model name to force provider")
	}

	payload := completionRequest{
		Model:    adjustedModel,
		Messages: messages,
		Provider: provider,
	}
	if len(reasoning) > 0 {
		payload.Reasoning = reasoning
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	c.appendSessionLog(meta, fmt.Sprintf("REQUEST model=%s instance_id=%s try=%d url=%s\n%s",
		adjustedModel, meta.InstanceID, meta.TryIndex, url, utils.JSONPretty(payload)))

	var completion *models.RawCompletion
	err = c.runner.Do(ctx, func(attempt int) error {
		completion = nil

		c.logger.Info().
			Str("model", adjustedModel).
			Str("instance_id", meta.InstanceID).
			Int("try", meta.TryIndex).
			Int("attempt", attempt+1).
			Msg("Calling OpenRouter")
		if c.debug {
			c.logger.Info().RawJSON("payload", body).Msg("OpenRouter request payload")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		if c.referer != "" {
			req.Header.Set("HTTP-Referer", c.referer)
		}
		if c.appTitle != "" {
			req.Header.Set("X-Title", c.appTitle)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to call openrouter: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read openrouter response: %w", err)
		}

		c.appendSessionLog(meta, fmt.Sprintf("RESPONSE model=%s instance_id=%s try=%d status=%d\n%s",
			adjustedModel, meta.InstanceID, meta.TryIndex, resp.StatusCode, respBody))

		if resp.StatusCode == http.StatusTooManyRequests {
			c.logger.Warn().
				Str("model", adjustedModel).
				Int("attempt", attempt+1).
				Str("retry_after", resp.Header.Get("Retry-After")).
				Msg("OpenRouter rate limited")
			return &UpstreamError{
				Status:     resp.StatusCode,
				RetryAfter: resp.Header.Get("Retry-After"),
				Body:       utils.TruncateString(string(respBody), upstreamBodyLimit),
			}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.logger.Error().
				Str("model", adjustedModel).
				Int("attempt", attempt+1).
				Int("status", resp.StatusCode).
				Str("body", utils.TruncateString(string(respBody), upstreamBodyLimit)).
				Msg("OpenRouter returned error status")
			return &UpstreamError{
				Status:     resp.StatusCode,
				RetryAfter: resp.Header.Get("Retry-After"),
				Body:       utils.TruncateString(string(respBody), upstreamBodyLimit),
			}
		}

		var parsed models.RawCompletion
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			// Битый JSON при успешном статусе не повторяется, сразу
			// наверх как 502 с началом тела.
			c.appendSessionLog(meta, fmt.Sprintf("JSON_PARSE_ERROR model=%s status=%d\n%s",
				adjustedModel, resp.StatusCode, respBody))
			c.logger.Error().
				Str("model", adjustedModel).
				Int("status", resp.StatusCode).
				Int("body_length", len(respBody)).
				Msg("OpenRouter returned invalid JSON")
			return retry.Permanent(&UpstreamError{
				Status: http.StatusBadGateway,
				Body:   utils.TruncateString(string(respBody), upstreamBodyLimit),
			})
		}

		parsed.Raw = respBody
		completion = &parsed
		return nil
	})

	if err != nil {
		return nil, err
	}
	return completion, nil
}

// routeModel фиксирует провайдера для семейства Claude: авто-роутинг
// OpenRouter иногда отдаёт эти модели через сторонний хостинг с другим
// форматом ответа.
func routeModel(model string) (string, providerRouting) {
	provider := providerRouting{AllowFallbacks: false}

	if !strings.Contains(strings.ToLower(model), "claude") {
		return model, provider
	}

	adjusted := model
	if strings.HasPrefix(adjusted, "google/") {
		adjusted = "anthropic/" + strings.TrimPrefix(adjusted, "google/")
	} else if !strings.HasPrefix(adjusted, "anthropic/") {
		adjusted = "anthropic/" + adjusted
	}

	provider.RequireParameters = true
	provider.Order = []string{"Anthropic"}

	return adjusted, provider
}

func (c *openRouterClient) appendSessionLog(meta CallMeta, text string) {
	if meta.SessionID == "" {
		return
	}
	c.gradeLog.Append(meta.SessionID, text)
}
