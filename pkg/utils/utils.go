package utils

import (
	"encoding/json"
	"net/url"
)

func TruncateString(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit]
}

// JSONPretty сериализует значение для логов; при ошибке возвращает заглушку.
func JSONPretty(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "<unserializable>"
	}
	return string(b)
}

// EncodeImageURL перекодирует path и query, не трогая scheme и host.
// При ошибке разбора возвращает строку как есть.
func EncodeImageURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	if decoded, derr := url.PathUnescape(u.EscapedPath()); derr == nil {
		u.RawPath = ""
		u.Path = decoded
	}

	if u.RawQuery != "" {
		q, qerr := url.ParseQuery(u.RawQuery)
		if qerr == nil {
			u.RawQuery = q.Encode()
		}
	}

	return u.String()
}
