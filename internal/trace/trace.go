// Package trace wires request-scoped logging.
//
// DESIGN: the engine runs inside a proxy hot path, so every log line
// carries the request id and all logging goes through zerolog's global
// logger. Callers configure output once at startup with Setup; everything
// else uses the context-scoped logger.
package trace

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey struct{}

// Setup configures the global logger. An empty level means info; a nil
// output means stderr.
func Setup(level string, output io.Writer) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if output == nil {
		output = os.Stderr
	}
	log.Logger = zerolog.New(output).Level(lvl).With().Timestamp().Logger()
}

// NewRequestID returns a fresh id for one proxied request.
func NewRequestID() string {
	return uuid.NewString()
}

// WithRequest attaches a request-scoped logger to ctx. An empty id gets a
// fresh one.
func WithRequest(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = NewRequestID()
	}
	logger := log.With().Str("request_id", requestID).Logger()
	return context.WithValue(ctx, ctxKey{}, &logger)
}

// Logger returns the request-scoped logger, or the global one when ctx
// carries none.
func Logger(ctx context.Context) *zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
		return l
	}
	return &log.Logger
}
