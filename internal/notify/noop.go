package notify

import (
	"context"

	"github.com/nholik/servo/internal/transition"
	"github.com/rs/zerolog"
)

// NoopNotifier drops notifications.
type NoopNotifier struct{}

// NewNoop returns a notifier that logs the reason once and does nothing thereafter.
func NewNoop(logger zerolog.Logger, reason string) *NoopNotifier {
	if reason != "" {
		logger.Info().Msg(reason)
	}
	return &NoopNotifier{}
}

// Notify implements Notifier.
func (*NoopNotifier) Notify(context.Context, string, []transition.CheckTransition) error {
	return nil
}
