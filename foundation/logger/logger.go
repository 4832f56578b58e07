// Package logger constructs the structured logger used across the node
// process. It wraps zap rather than exposing it directly so the rest of
// the codebase depends on a narrow, injectable logging capability instead
// of a package-level singleton.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs a SugaredLogger tagged with the given service name.
// Call once in main and pass the result down; nothing in this module
// reaches for a global logger.
func New(service string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	config.InitialFields = map[string]any{
		"service": service,
	}

	log, err := config.Build()
	if err != nil {
		return nil, err
	}

	return log.Sugar(), nil
}

// EventHandler is the narrow progress-reporting capability passed into
// core components (state, chain, mempool, miner, node, consensus) so
// they can report internal progress without depending on *zap.Logger
// directly. cmd/node wires this to log.Infof.
type EventHandler func(v string, args ...any)

// NewEventHandler adapts a SugaredLogger into an EventHandler.
func NewEventHandler(log *zap.SugaredLogger) EventHandler {
	return func(v string, args ...any) {
		log.Infof(v, args...)
	}
}
