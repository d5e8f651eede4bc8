package prompt

import (
	"strings"

	"github.com/eduscan/exam-checker/grading-service/internal/models"
)

// Бэктики недопустимы внутри raw-литерала, в тексте шаблона они заменены на ~.
var DefaultSystemTemplate = strings.ReplaceAll(`<Role>
You are a teacher whose job is to grade student assessments.
</Role>

<Task>
You will be given three inputs:
- ~answer_key~
- ~questions_list~
- ~student_assessments~
For each student in ~student_assessments~, you must:
1. Extract the student's ~first_name~, ~last_name~ and ~Student_ID~.
2. For each question in ~questions_list~, assign a ~marks_awarded~ and provide ~rubric_notes~.
3. Format the final output for each student as a single JSON object.
</Task>

<Instructions>
Follow the detailed grading instructions and feedback rubric precisely.
</Instructions>

<Answer_Key>
Here are the answer key pages. Use these to determine correct answers and any specific grading criteria:
[Answer key]
</Answer_Key>

<Question_List>
Here are the specific questions to grade. Only grade these questions in the student's assessment:
[Question list]
</Question_List>`, "~", "`")

const DefaultUserTemplate = `<Student_Assessments>
Here are the pages of the student's test:
[Student assessment]
</Student_Assessments>`

const DefaultSchemaTemplate = `Return ONLY JSON with this exact schema (no markdown fences, no prose):
{"result":[{"first_name":string,"last_name":string,"answers":[{"question_id":string,"marks_awarded":number,"rubric_notes":string}]}]}
Use the question_id values exactly as provided in the Questions list.`

// DefaultSettings возвращает шаблоны, действующие пока пользователь не
// сохранил свои.
func DefaultSettings() models.PromptSettings {
	return models.PromptSettings{
		SystemTemplate: DefaultSystemTemplate,
		UserTemplate:   DefaultUserTemplate,
		SchemaTemplate: DefaultSchemaTemplate,
	}
}
