package services

import (
	"log/slog"

	"github.com/qadrigroup/chat-widget/internal/models"
)

// StateLogger is the default notification port: it records widget open/close transitions in the
// server log. In the browser the embed snippet relays the same event to the host page with
// postMessage; this implementation exists so the core never depends on that transport.
type StateLogger struct {
	logger *slog.Logger
}

// NewStateLogger creates a StateLogger writing to the given logger.
func NewStateLogger(logger *slog.Logger) StateLogger {
	return StateLogger{logger: logger}
}

// Notify logs the boundary event. It is one-way; no acknowledgment is produced.
func (s StateLogger) Notify(event models.WidgetStateEvent) {
	s.logger.Info("Widget state changed",
		slog.String("type", event.Type),
		slog.Bool("isOpen", event.IsOpen))
}
