package gradelog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Writer ведёт append-only лог грейдинга по каждой сессии: полный текст
// запросов и ответов модели для последующего разбора. Файл открывается и
// закрывается на каждую запись, ошибки записи никогда не прерывают грейдинг.
type Writer struct {
	dir    string
	logger zerolog.Logger
}

func NewWriter(dir string, logger zerolog.Logger) *Writer {
	return &Writer{
		dir:    dir,
		logger: logger,
	}
}

func (w *Writer) Append(sessionID, text string) {
	if w == nil || w.dir == "" {
		return
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		w.logger.Warn().Err(err).Str("dir", w.dir).Msg("Failed to create session log directory")
		return
	}

	path := filepath.Join(w.dir, fmt.Sprintf("session_%s.log", sessionID))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("Failed to open session log")
		return
	}
	defer f.Close()

	ts := time.Now().Format(time.RFC3339)
	if _, err := fmt.Fprintf(f, "[%s] %s\n", ts, text); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("Failed to write session log")
	}
}
