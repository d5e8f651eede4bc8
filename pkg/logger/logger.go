package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New возвращает логгер начальной загрузки с настройками по умолчанию.
// Используется до чтения конфигурации.
func New() zerolog.Logger {
	return NewWithConfig("info", true, false)
}

// NewWithConfig собирает логгер сервиса. Pretty включает консольный вывод
// для разработки, иначе пишем JSON для агрегаторов.
func NewWithConfig(level string, pretty, noColor bool) zerolog.Logger {
	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			NoColor:    noColor,
		}
	}

	log := zerolog.New(out).
		With().
		Timestamp().
		Str("service", "grading-service").
		Logger()

	// Уровень логирования, на debug добавляем caller
	switch level {
	case "debug":
		log = log.Level(zerolog.DebugLevel).With().Caller().Logger()
	case "info":
		log = log.Level(zerolog.InfoLevel)
	case "warn":
		log = log.Level(zerolog.WarnLevel)
	case "error":
		log = log.Level(zerolog.ErrorLevel)
	default:
		log = log.Level(zerolog.InfoLevel)
	}

	return log
}
