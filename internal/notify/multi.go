package notify

import (
	"context"
	"errors"

	"github.com/nholik/servo/internal/transition"
)

// MultiNotifier fans out notifications to multiple notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that dispatches to all non-nil notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		filtered = append(filtered, n)
	}
	return &MultiNotifier{notifiers: filtered}
}

// Len returns the number of wrapped notifiers.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// Notify implements Notifier. Every notifier is attempted; their errors are joined.
func (m *MultiNotifier) Notify(ctx context.Context, connector string, transitions []transition.CheckTransition) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, connector, transitions); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
