package logging

import (
	"log/slog"
	"os"
)

// InitCLI - текстовые логи в stderr для консольного участника.
// Уровень берётся из LOG_LEVEL, по умолчанию только ошибки
func InitCLI() {
	slog.SetDefault(
		slog.New(
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: ParseLevel(os.Getenv("LOG_LEVEL")),
			}),
		),
	)
}

func ParseLevel(l string) slog.Level {
	switch l {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
