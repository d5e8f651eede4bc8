// Package prompt собирает сообщения для chat-completion API: системный текст
// и мультимодальный user-контент из изображений работ, ключа ответов и списка
// вопросов. Шаблоны берутся из настроек, при их отсутствии действует
// встроенный запасной промпт.
package prompt

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
	"github.com/eduscan/exam-checker/grading-service/pkg/utils"
)

// Плейсхолдеры, распознаваемые в шаблонах. В системном тексте подставляются
// только текстовые, в user-шаблоне каждый учитывается по первому вхождению.
const (
	PlaceholderAnswerKey      = "[Answer key]"
	PlaceholderStudentPages   = "[Student assessment]"
	PlaceholderQuestionList   = "[Question list]"
	PlaceholderResponseSchema = "[Response schema]"
	PlaceholderRubric         = "[Grading rubric]"
)

const fallbackSchemaText = "\n\nReturn ONLY JSON with this exact schema (no markdown fences, no prose):\n" +
	`{"result":[{"first_name":string,"last_name":string,"answers":[{"question_number":string,"marks_awarded":number,"rubric_notes":string}]}]}` +
	"\nUse the question_number values exactly as provided in the Questions list."

const legacySystemText = "You are a strict grader. Read the student's answer images and the answer key images. " +
	"Return ONLY JSON with this exact schema (no markdown, no prose):\n" +
	`{"result":[{"first_name":string,"last_name":string,"answers":[{"question_id":string,"marks_awarded":number,"rubric_notes":string}]}]}` +
	"\nUse the question_id values exactly as provided in the Questions list."

const rubricSystemText = "You are an assessment moderator. Read the answer key pages and write out the grading criteria for every question in the Questions list. " +
	"Return ONLY JSON with this exact schema (no markdown fences, no prose):\n" +
	`{"grading_criteria":[{"question_id":string,"max_marks":number,"grading_criteria":[string],"deductions":[string],"notes":string}]}` +
	"\nInclude one entry per question. Use the question_number values from the Questions list as the question_id values."

// Templates — очищенные шаблоны промпта. Пустое поле означает, что шаблон
// не задан.
type Templates struct {
	System string
	User   string
	Schema string
}

// TemplatesFromSettings разбирает значение ключа prompt_settings. Значение
// бывает объектом либо JSON-строкой с объектом внутри, любая другая форма
// даёт пустой набор.
func TemplatesFromSettings(value []byte) Templates {
	if len(value) == 0 {
		return Templates{}
	}

	payload := value
	var wrapped string
	if err := json.Unmarshal(value, &wrapped); err == nil {
		payload = []byte(wrapped)
	}

	var settings models.PromptSettings
	if err := json.Unmarshal(payload, &settings); err != nil {
		return Templates{}
	}

	return Templates{
		System: strings.TrimSpace(settings.SystemTemplate),
		User:   strings.TrimSpace(settings.UserTemplate),
		Schema: strings.TrimSpace(settings.SchemaTemplate),
	}
}

// Configured сообщает, заданы ли оба обязательных шаблона. Без полной пары
// действует запасной промпт.
func (t Templates) Configured() bool {
	return t.System != "" && t.User != ""
}

// BuildGradingMessages собирает пару сообщений system+user для проверки
// работы. rubricText, если он не пуст, подставляется в системный текст.
func BuildGradingMessages(tpl Templates, questions []*models.Question, studentURLs, keyURLs []string, rubricText string) []models.ChatMessage {
	students := encodeURLs(studentURLs)
	keys := encodeURLs(keyURLs)
	questionsList := questionListJSON(questions)

	if !tpl.Configured() {
		return legacyMessages(students, keys, questionsList, rubricText)
	}

	schemaText := resolveSchemaText(tpl.Schema, questionsList)

	sysText := strings.ReplaceAll(tpl.System, PlaceholderQuestionList, questionsList)
	if strings.Contains(sysText, PlaceholderResponseSchema) {
		sysText = strings.ReplaceAll(sysText, PlaceholderResponseSchema, schemaText)
	} else {
		sysText += schemaText
	}
	sysText = applyRubric(sysText, rubricText)

	return []models.ChatMessage{
		{Role: "system", Content: sysText},
		{Role: "user", Content: splitUserTemplate(tpl.User, students, keys, questionsList, schemaText)},
	}
}

// BuildRubricMessages собирает запрос на извлечение критериев оценивания из
// страниц ключа ответов.
func BuildRubricMessages(questions []*models.Question, keyURLs []string) []models.ChatMessage {
	keys := encodeURLs(keyURLs)
	questionsList := questionListJSON(questions)

	content := []models.ContentPart{models.TextPart("Extract the grading criteria from these answer key pages:")}
	for _, u := range keys {
		content = append(content, models.ImagePart(u))
	}
	content = append(content, models.TextPart("Questions: "+questionsList))

	return []models.ChatMessage{
		{Role: "system", Content: rubricSystemText},
		{Role: "user", Content: content},
	}
}

// legacyMessages — запасной промпт, действующий без настроенных шаблонов.
func legacyMessages(studentURLs, keyURLs []string, questionsList, rubricText string) []models.ChatMessage {
	content := []models.ContentPart{models.TextPart("Grade the student's answers against the answer key.")}
	for _, u := range studentURLs {
		content = append(content, models.ImagePart(u))
	}
	if len(keyURLs) > 0 {
		content = append(content, models.TextPart("Answer key images:"))
		for _, u := range keyURLs {
			content = append(content, models.ImagePart(u))
		}
	}
	content = append(content, models.TextPart("Questions: "+questionsList))

	return []models.ChatMessage{
		{Role: "system", Content: applyRubric(legacySystemText, rubricText)},
		{Role: "user", Content: content},
	}
}

// splitUserTemplate режет user-шаблон по плейсхолдерам на типизированные
// части. Учитывается первое вхождение каждого плейсхолдера, сегменты из
// одних пробелов отбрасываются, пустые списки изображений пропускаются.
func splitUserTemplate(template string, studentURLs, keyURLs []string, questionsList, schemaText string) []models.ContentPart {
	type segment struct {
		pos   int
		token string
		text  string
		urls  []string
	}

	candidates := []segment{
		{token: PlaceholderAnswerKey, urls: keyURLs},
		{token: PlaceholderStudentPages, urls: studentURLs},
		{token: PlaceholderQuestionList, text: questionsList},
		{token: PlaceholderResponseSchema, text: schemaText},
	}

	found := make([]segment, 0, len(candidates))
	for _, c := range candidates {
		if idx := strings.Index(template, c.token); idx != -1 {
			c.pos = idx
			found = append(found, c)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	if len(found) == 0 {
		parts := []models.ContentPart{models.TextPart(template)}
		if len(keyURLs) > 0 {
			parts = append(parts, models.TextPart("\n\nAnswer key images:"))
			for _, u := range keyURLs {
				parts = append(parts, models.ImagePart(u))
			}
		}
		if len(studentURLs) > 0 {
			parts = append(parts, models.TextPart("\n\nStudent test pages:"))
			for _, u := range studentURLs {
				parts = append(parts, models.ImagePart(u))
			}
		}
		return parts
	}

	var parts []models.ContentPart
	cursor := 0
	for _, seg := range found {
		if seg.pos > cursor {
			if before := template[cursor:seg.pos]; strings.TrimSpace(before) != "" {
				parts = append(parts, models.TextPart(before))
			}
		}
		switch {
		case len(seg.urls) > 0:
			for _, u := range seg.urls {
				parts = append(parts, models.ImagePart(u))
			}
		case seg.text != "":
			parts = append(parts, models.TextPart(seg.text))
		}
		cursor = seg.pos + len(seg.token)
	}
	if cursor < len(template) {
		if after := template[cursor:]; strings.TrimSpace(after) != "" {
			parts = append(parts, models.TextPart(after))
		}
	}
	return parts
}

// resolveSchemaText возвращает блок со схемой ответа, начинающийся с пустой
// строки, чтобы его можно было дописать в конец системного текста.
func resolveSchemaText(schemaTemplate, questionsList string) string {
	if schemaTemplate != "" {
		return "\n\n" + strings.ReplaceAll(schemaTemplate, PlaceholderQuestionList, questionsList)
	}
	return fallbackSchemaText
}

// applyRubric подставляет текст рубрики в системное сообщение. Без
// плейсхолдера непустая рубрика дописывается отдельной секцией.
func applyRubric(sysText, rubricText string) string {
	if strings.Contains(sysText, PlaceholderRubric) {
		return strings.ReplaceAll(sysText, PlaceholderRubric, rubricText)
	}
	if rubricText == "" {
		return sysText
	}
	return sysText + "\n\n<Grading_Rubric>\nApply these grading criteria when awarding marks:\n" + rubricText + "\n</Grading_Rubric>"
}

type questionEntry struct {
	QuestionNumber string  `json:"question_number"`
	MaxMark        float64 `json:"max_mark"`
}

type questionListPayload struct {
	QuestionList []questionEntry `json:"question_list"`
}

// questionListJSON сериализует список вопросов в форму, которую ждёт модель:
// question_id уходит как question_number, max_marks как max_mark.
func questionListJSON(questions []*models.Question) string {
	entries := make([]questionEntry, 0, len(questions))
	for _, q := range questions {
		entries = append(entries, questionEntry{QuestionNumber: q.QuestionID, MaxMark: q.MaxMarks})
	}

	data, err := json.MarshalIndent(questionListPayload{QuestionList: entries}, "", "  ")
	if err != nil {
		return `{"question_list": []}`
	}
	return string(data)
}

func encodeURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		out = append(out, utils.EncodeImageURL(u))
	}
	return out
}
