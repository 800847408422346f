package notify

import (
	"context"

	"github.com/nholik/servo/internal/transition"
)

// Notifier delivers check transition alerts to external systems.
type Notifier interface {
	Notify(ctx context.Context, connector string, transitions []transition.CheckTransition) error
}

func connectorKey(connector string) string {
	if connector == "" {
		return "default"
	}
	return connector
}
