package answers

import (
	"encoding/json"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

// ReasonCriteriaNotList — извлечённый объект не содержит списка
// grading_criteria.
const ReasonCriteriaNotList = "criteria_not_list"

// ParseRubric извлекает из ответа модели JSON с критериями оценивания и
// возвращает его текст. Объект обязан содержать grading_criteria списком.
func ParseRubric(completion *models.RawCompletion) (string, *Diagnostics) {
	if completion == nil || len(completion.Choices) == 0 {
		return "", &Diagnostics{Reason: ReasonNoChoices}
	}

	text, diag := contentText(completion.Choices[0].Message.Content)
	if diag != nil {
		return "", diag
	}

	objText, diag := ExtractObject(text)
	if diag != nil {
		return "", diag
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(objText), &obj); err != nil {
		return "", &Diagnostics{
			Reason:  ReasonParseException,
			Preview: truncate(objText, previewLimit),
			Detail:  err.Error(),
			Hints:   scanHints(objText),
		}
	}

	if _, ok := obj["grading_criteria"].([]interface{}); !ok {
		return "", &Diagnostics{Reason: ReasonCriteriaNotList, Preview: truncate(objText, previewLimit)}
	}

	return objText, nil
}
