// Package answers приводит свободный текст ответа модели к каноническому
// списку оценок по вопросам. Модели возвращают JSON в разных исторических
// форматах и часто заворачивают его в прозу или code fences, поэтому
// разбор устроен как конвейер: извлечение объекта, декодирование и серия
// кандидатных декодеров схемы по фиксированному приоритету.
package answers

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

// Причины неудачного разбора. Попадают в validation_errors строки
// результата как есть, поэтому значения менять нельзя.
const (
	ReasonNoChoices          = "no_choices"
	ReasonUnsupportedContent = "unsupported_content_type"
	ReasonNoJSONInContent    = "no_json_in_content"
	ReasonNoClosingBrace     = "no_closing_brace"
	ReasonParseException     = "parse_exception"
	ReasonAnswersNotList     = "answers_not_list"
	ReasonNoValidAnswers     = "no_valid_answers"
)

const previewLimit = 200

// Diagnostics — машинно-читаемое описание того, почему ответ модели не
// удалось привести к списку оценок. Stage заполняет вызывающая сторона,
// когда ошибку нужно отнести к фазе рубрики.
type Diagnostics struct {
	Reason  string   `json:"reason"`
	Preview string   `json:"preview,omitempty"`
	Detail  string   `json:"error,omitempty"`
	Hints   []string `json:"hints,omitempty"`
	Stage   string   `json:"stage,omitempty"`
}

// Parse разбирает первый choice ответа и возвращает список валидных оценок
// либо диагностику. Ошибкой разбора считается только полное отсутствие
// валидных записей, частично битый список прореживается молча.
func Parse(completion *models.RawCompletion) ([]models.ParsedAnswer, *Diagnostics) {
	if completion == nil || len(completion.Choices) == 0 {
		return nil, &Diagnostics{Reason: ReasonNoChoices}
	}

	text, diag := contentText(completion.Choices[0].Message.Content)
	if diag != nil {
		return nil, diag
	}

	objText, diag := ExtractObject(text)
	if diag != nil {
		return nil, diag
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(objText), &obj); err != nil {
		return nil, &Diagnostics{
			Reason:  ReasonParseException,
			Preview: truncate(objText, previewLimit),
			Detail:  err.Error(),
			Hints:   scanHints(objText),
		}
	}

	return decodeAnswers(obj)
}

// contentText собирает текст сообщения: content бывает строкой либо
// массивом типизированных частей, из которого берутся только текстовые.
func contentText(content json.RawMessage) (string, *Diagnostics) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return "", &Diagnostics{Reason: ReasonUnsupportedContent}
	}

	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text, nil
	}

	var parts []models.ContentPart
	if err := json.Unmarshal(trimmed, &parts); err == nil {
		collected := make([]string, 0, len(parts))
		for _, part := range parts {
			if part.Type == "text" {
				collected = append(collected, part.Text)
			}
		}
		return strings.Join(collected, "\n"), nil
	}

	return "", &Diagnostics{Reason: ReasonUnsupportedContent}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
