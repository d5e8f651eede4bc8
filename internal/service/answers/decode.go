package answers

import (
	"encoding/json"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

// decoder пытается извлечь из декодированного объекта сырой список
// записей оценок. Возвращает ok=false, если форма объекта декодеру не
// подходит и очередь переходит к следующему кандидату.
type decoder func(obj map[string]interface{}) ([]interface{}, bool)

// Порядок фиксирован: прямой список answers, словарь answers,
// пост-студентный result[], затем словари results/grades. Побеждает
// первый подошедший декодер.
var decoders = []decoder{
	decodeAnswersList,
	decodeAnswersMap,
	decodeResultStudents,
	decodeGradesMap,
}

func decodeAnswers(obj map[string]interface{}) ([]models.ParsedAnswer, *Diagnostics) {
	var raw []interface{}
	applied := false
	for _, decode := range decoders {
		if entries, ok := decode(obj); ok {
			raw = entries
			applied = true
			break
		}
	}
	if !applied {
		return nil, &Diagnostics{Reason: ReasonAnswersNotList}
	}

	answers := validateEntries(raw)
	if len(answers) == 0 {
		return nil, &Diagnostics{Reason: ReasonNoValidAnswers}
	}

	return answers, nil
}

// answersField возвращает значение поля answers. Некоторые модели кладут
// туда JSON, закодированный строкой, такая строка декодируется на месте.
func answersField(obj map[string]interface{}) interface{} {
	value, ok := obj["answers"]
	if !ok {
		return nil
	}

	text, ok := value.(string)
	if !ok {
		return value
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return value
	}
	return decoded
}

func answersAbsent(obj map[string]interface{}) bool {
	return answersField(obj) == nil
}

func decodeAnswersList(obj map[string]interface{}) ([]interface{}, bool) {
	list, ok := answersField(obj).([]interface{})
	return list, ok
}

// decodeAnswersMap принимает словарь question_id -> оценка, где оценка
// бывает объектом, числом либо строкой заметок без балла.
func decodeAnswersMap(obj map[string]interface{}) ([]interface{}, bool) {
	byQID, ok := answersField(obj).(map[string]interface{})
	if !ok {
		return nil, false
	}

	coerced := make([]interface{}, 0, len(byQID))
	for qid, gradeInfo := range byQID {
		switch v := gradeInfo.(type) {
		case map[string]interface{}:
			coerced = append(coerced, canonicalEntry(
				qid,
				firstPresent(v, "mark", "marks_awarded", "score"),
				firstPresent(v, "feedback", "rubric_notes", "notes"),
			))
		case float64:
			coerced = append(coerced, canonicalEntry(qid, v, nil))
		case string:
			coerced = append(coerced, canonicalEntry(qid, nil, v))
		}
	}

	return coerced, true
}

// decodeResultStudents разбирает форму result[] со вложенным answers[] у
// каждого студента. Применяется только когда answers отсутствует на
// верхнем уровне и когда из result удалось собрать хотя бы одну запись.
func decodeResultStudents(obj map[string]interface{}) ([]interface{}, bool) {
	if !answersAbsent(obj) {
		return nil, false
	}

	students, ok := obj["result"].([]interface{})
	if !ok {
		return nil, false
	}

	var combined []interface{}
	for _, item := range students {
		student, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entries, ok := student["answers"].([]interface{})
		if !ok {
			continue
		}
		for _, raw := range entries {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			qid, _ := aliasLookup(entry, "question_id", "qid", "questionID", "question", "question_number").(string)
			combined = append(combined, canonicalEntry(
				qid,
				firstPresent(entry, "marks_awarded", "mark", "score"),
				firstPresent(entry, "rubric_notes", "feedback", "notes"),
			))
		}
	}

	if len(combined) == 0 {
		return nil, false
	}
	return combined, true
}

// decodeGradesMap разбирает верхнеуровневые словари results/grades вида
// question_id -> {mark, feedback}.
func decodeGradesMap(obj map[string]interface{}) ([]interface{}, bool) {
	if !answersAbsent(obj) {
		return nil, false
	}

	var grades map[string]interface{}
	if v, ok := obj["results"].(map[string]interface{}); ok {
		grades = v
	} else if v, ok := obj["grades"].(map[string]interface{}); ok {
		grades = v
	} else {
		return nil, false
	}

	coerced := make([]interface{}, 0, len(grades))
	for qid, gradeInfo := range grades {
		info, ok := gradeInfo.(map[string]interface{})
		if !ok {
			continue
		}
		coerced = append(coerced, canonicalEntry(
			qid,
			firstPresent(info, "mark", "marks_awarded"),
			firstPresent(info, "feedback", "rubric_notes"),
		))
	}

	return coerced, true
}

func canonicalEntry(qid string, marks, notes interface{}) map[string]interface{} {
	entry := map[string]interface{}{
		"marks_awarded": marks,
		"rubric_notes":  notes,
	}
	if qid != "" {
		entry["question_id"] = qid
	}
	return entry
}

// validateEntries оставляет только записи со строковым question_id и
// числовым либо отсутствующим баллом. Невалидные записи отбрасываются
// молча: частично пригодный ответ лучше, чем отказ целиком.
func validateEntries(raw []interface{}) []models.ParsedAnswer {
	var answers []models.ParsedAnswer
	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		qid, ok := aliasLookup(entry, "question_id", "qid", "questionID", "question", "question_number").(string)
		if !ok {
			continue
		}

		var marks *float64
		switch v := firstPresent(entry, "marks_awarded", "mark", "score").(type) {
		case float64:
			marks = &v
		case nil:
		default:
			continue
		}

		var notes *string
		if s, ok := firstPresent(entry, "rubric_notes", "feedback", "notes").(string); ok {
			notes = &s
		}

		answers = append(answers, models.ParsedAnswer{
			QuestionID:   qid,
			MarksAwarded: marks,
			RubricNotes:  notes,
		})
	}

	return answers
}

// aliasLookup возвращает значение первого псевдонима с непустым
// значением. Пустая строка или ноль в раннем псевдониме не должны
// перекрывать заполненный поздний.
func aliasLookup(entry map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := entry[key]; ok && nonEmpty(v) {
			return v
		}
	}
	return nil
}

func firstPresent(entry map[string]interface{}, keys ...string) interface{} {
	for _, key := range keys {
		if v, ok := entry[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func nonEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case float64:
		return t != 0
	case bool:
		return t
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}
