package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"
	"time"

	"github.com/nholik/servo/internal/transition"
	"github.com/rs/zerolog"
)

const defaultWebhookTemplate = `{"connector":{{ toJson .Connector }},"generated_at":{{ toJson .GeneratedAt }},"transitions":{{ toJson .Transitions }}}`

// WebhookPayload is the template context for webhook notifications.
type WebhookPayload struct {
	Connector   string
	Transitions []transition.CheckTransition
	Failing     int
	GeneratedAt time.Time
}

// WebhookNotifier renders check transitions through a text/template and posts them.
type WebhookNotifier struct {
	logger   zerolog.Logger
	template *template.Template
	poster   *poster
	now      func() time.Time
}

// NewWebhookNotifier creates a webhook notifier with the provided template.
// It returns nil when no webhook URL is configured.
func NewWebhookNotifier(logger zerolog.Logger, webhookURL, tmpl string) (*WebhookNotifier, error) {
	if webhookURL == "" {
		return nil, nil
	}
	if tmpl == "" {
		tmpl = defaultWebhookTemplate
	}

	parsed, err := template.New("webhook").Funcs(template.FuncMap{
		"toJson": func(v any) (string, error) {
			encoded, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(encoded), nil
		},
	}).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse webhook template: %w", err)
	}

	return &WebhookNotifier{
		logger:   logger,
		template: parsed,
		poster:   newPoster("webhook", webhookURL, "application/json", defaultTiming),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, connector string, transitions []transition.CheckTransition) error {
	if n == nil || len(transitions) == 0 {
		return nil
	}
	connector = connectorKey(connector)

	payload := WebhookPayload{
		Connector:   connector,
		Transitions: transitions,
		GeneratedAt: n.now(),
	}
	for _, t := range transitions {
		if t.Current == transition.StatusFailed {
			payload.Failing++
		}
	}

	var buf bytes.Buffer
	if err := n.template.Execute(&buf, payload); err != nil {
		return fmt.Errorf("render webhook template: %w", err)
	}
	if err := n.poster.deliver(ctx, connector, buf.Bytes()); err != nil {
		return err
	}

	n.logger.Debug().
		Str("connector", connector).
		Int("transitions", len(transitions)).
		Msg("webhook notification sent")
	return nil
}
