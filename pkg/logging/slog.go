package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the process-wide JSON logger. LOG_LEVEL=debug lowers the
// threshold; anything else keeps info.
func New() *slog.Logger {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(h)
}
