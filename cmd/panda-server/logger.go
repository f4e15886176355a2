package main

import (
	"log/slog"
	"os"

	"github.com/pandacan/panda-server/internal/logging"
)

func setupLogger(format, level string) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level), os.Stderr).With("app", "panda-server")
	logging.Set(l)
	return l
}
