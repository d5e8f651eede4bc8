package answers

import (
	"strings"
)

// ExtractObject вырезает первый JSON-объект из свободного текста ответа.
// Сначала снимаются markdown code fences, затем от первой `{` идёт
// посимвольный проход со счётчиком глубины, игнорирующий скобки внутри
// строк и экранированные символы. Если сбалансированной закрывающей
// скобки нет, берётся последняя `}` в тексте: часть провайдеров отдаёт
// обрезанный JSON, который спасает только такой запасной вариант.
func ExtractObject(text string) (string, *Diagnostics) {
	text = stripCodeFences(strings.TrimSpace(text))

	start := strings.Index(text, "{")
	if start == -1 {
		return "", &Diagnostics{
			Reason:  ReasonNoJSONInContent,
			Preview: truncate(text, previewLimit),
		}
	}

	end := matchClosingBrace(text, start)
	if end == -1 {
		end = strings.LastIndex(text, "}")
	}
	if end == -1 || end <= start {
		return "", &Diagnostics{
			Reason:  ReasonNoClosingBrace,
			Preview: truncate(text, previewLimit),
		}
	}

	return text[start : end+1], nil
}

func stripCodeFences(text string) string {
	if strings.HasPrefix(text, "```json") || strings.HasPrefix(text, "```JSON") {
		text = text[7:]
	} else if strings.HasPrefix(text, "```") {
		text = text[3:]
	}
	if strings.HasSuffix(text, "```") {
		text = text[:len(text)-3]
	}
	return strings.TrimSpace(text)
}

// matchClosingBrace возвращает индекс скобки, закрывающей объект,
// открытый в позиции start, либо -1.
func matchClosingBrace(text string, start int) int {
	depth := 0
	inString := false
	escapeNext := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if ch == '\\' {
			escapeNext = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}

	return -1
}

// scanHints ищет в подстроке типовые причины битого JSON, чтобы положить
// подсказку в диагностику parse_exception.
func scanHints(text string) []string {
	var hints []string

	inString := false
	escapeNext := false
	trailingComma := false

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if ch == '\\' {
			escapeNext = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString || ch != ',' {
			continue
		}

		// Запятая вне строки: если дальше до ближайшего непробельного
		// символа стоит закрывающая скобка, это висячая запятая.
		for j := i + 1; j < len(text); j++ {
			next := text[j]
			if next == ' ' || next == '\t' || next == '\n' || next == '\r' {
				continue
			}
			if next == '}' || next == ']' {
				trailingComma = true
			}
			break
		}
	}

	if trailingComma {
		hints = append(hints, "trailing_comma")
	}
	if inString {
		hints = append(hints, "unterminated_string")
	}

	return hints
}
