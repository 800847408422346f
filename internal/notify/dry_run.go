package notify

import (
	"context"

	"github.com/nholik/servo/internal/transition"
	"github.com/rs/zerolog"
)

// DryRunNotifier logs transitions instead of delivering them.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier wraps inner so nothing reaches it.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, connector string, transitions []transition.CheckTransition) error {
	for _, t := range transitions {
		event := n.logger.Info().
			Str("connector", connectorKey(connector)).
			Str("check_id", t.CheckID).
			Str("check", t.Name).
			Bool("required", t.Required).
			Str("previous_status", t.Previous).
			Str("current_status", t.Current)
		if t.Message != "" {
			event = event.Str("message", t.Message)
		}
		event.Msg("[DRY-RUN] Would notify")
	}
	return nil
}
