package dashtesting

import (
	"io"
	"log/slog"
	"os"

	"github.com/malbeclabs/eventdash/utils/pkg/logger"
)

// NewLogger returns a logger for tests. Output is discarded unless DEBUG is set.
func NewLogger() *slog.Logger {
	if os.Getenv("DEBUG") != "" {
		return logger.New(true)
	}
	return logger.NewWithWriter(io.Discard, false)
}
