package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const consoleTimeFormat = "15:04:05"

// Init настраивает глобальный логгер. Лог идёт в stderr, чтобы полосы
// прогресса в stdout не рвались.
func Init(verbose bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = zerolog.New(console()).With().Timestamp().Logger()
}

func console() zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: consoleTimeFormat}
}

// NewFileLogger пишет в консоль и дополнительно в журнал событий path
// (JSON по строке на событие). Файл закрывает вызывающий.
func NewFileLogger(path string) (zerolog.Logger, io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return log.Logger, nil, err
	}
	multi := zerolog.MultiLevelWriter(console(), f)
	return zerolog.New(multi).With().Timestamp().Logger(), f, nil
}

// WithComponent добавляет поле component.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
