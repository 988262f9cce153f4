package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init настраивает глобальный логгер: уровень и формат вывода.
// pretty включает человекочитаемый консольный вывод вместо JSON.
func Init(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Int("pid", os.Getpid()).Logger()
}

// Component возвращает логгер с тегом компонента.
func Component(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log выводит сообщение компонента без контекста сессии.
func Log(component, message string) {
	log.Info().Str("component", component).Msg(message)
}

// LogError выводит ошибку компонента.
func LogError(component, message string, err error) {
	log.Error().Str("component", component).Err(err).Msg(message)
}

// LogSession выводит сообщение с указанием идентификатора сессии.
func LogSession(component, session, message string) {
	log.Info().Str("component", component).Str("session", session).Msg(message)
}

// LogJob выводит сообщение с указанием сессии, номера чанка и общего количества чанков.
func LogJob(component, session string, jobID, total int, message string) {
	log.Info().
		Str("component", component).
		Str("session", session).
		Int("job", jobID).
		Int("total", total).
		Msg(message)
}
