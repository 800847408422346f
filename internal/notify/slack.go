package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nholik/servo/internal/transition"
	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
)

const (
	slackMaxBlocks = 50
	// header and context blocks are repeated in every message
	slackReservedBlocks = 2
	slackMaxTransitions = slackMaxBlocks - slackReservedBlocks
)

// SlackNotifier posts check transitions to a Slack incoming webhook as block messages.
type SlackNotifier struct {
	logger zerolog.Logger
	timing timingConfig
	poster *poster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides rate limit and retry timing.
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier, or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	n := &SlackNotifier{logger: logger, timing: defaultTiming}
	for _, opt := range opts {
		opt(n)
	}
	n.poster = newPoster("slack", webhookURL, "application/json", n.timing)
	return n
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, connector string, transitions []transition.CheckTransition) error {
	if len(transitions) == 0 {
		return nil
	}
	connector = connectorKey(connector)

	messages := buildSlackMessages(connector, transitions)
	payloads := make([][]byte, 0, len(messages))
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		payloads = append(payloads, payload)
	}
	if err := n.poster.deliver(ctx, connector, payloads...); err != nil {
		return err
	}

	n.logger.Debug().
		Str("connector", connector).
		Int("transitions", len(transitions)).
		Int("messages", len(messages)).
		Msg("slack notification sent")
	return nil
}

func buildSlackMessages(connector string, transitions []transition.CheckTransition) []slack.WebhookMessage {
	total := len(transitions)
	if total == 0 {
		return nil
	}

	parts := (total + slackMaxTransitions - 1) / slackMaxTransitions
	messages := make([]slack.WebhookMessage, 0, parts)
	for i := 0; i < total; i += slackMaxTransitions {
		end := min(i+slackMaxTransitions, total)
		messages = append(messages, buildSlackMessage(connector, transitions[i:end], total, i/slackMaxTransitions+1, parts))
	}
	return messages
}

func buildSlackMessage(connector string, transitions []transition.CheckTransition, total, part, parts int) slack.WebhookMessage {
	failing := 0
	for _, t := range transitions {
		if t.Current == transition.StatusFailed {
			failing++
		}
	}

	summary := fmt.Sprintf("Connector %s: %d check transition(s)", connector, total)
	if parts > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, part, parts)
	}

	elements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Connector: *%s*", connector), false, false),
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Failing: %d", failing), false, false),
	}
	if parts > 1 {
		elements = append(elements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", part, parts), false, false))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false)),
		slack.NewContextBlock("", elements...),
	}
	for _, t := range transitions {
		blocks = append(blocks, buildTransitionBlock(t))
	}

	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &slack.Blocks{BlockSet: blocks},
	}
}

func buildTransitionBlock(t transition.CheckTransition) slack.Block {
	title := fmt.Sprintf("%s *%s* (`%s`): `%s` → `%s`", statusEmoji(t.Current), t.Name, t.CheckID, t.Previous, t.Current)
	if t.Required {
		title += " _required_"
	}

	fields := make([]*slack.TextBlockObject, 0, 2)
	if t.Message != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Message:*\n"+t.Message, false, false))
	}
	if t.Exception != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Exception:*\n`"+t.Exception+"`", false, false))
	}

	return slack.NewSectionBlock(slack.NewTextBlockObject("mrkdwn", title, false, false), fields, nil)
}

func statusEmoji(status string) string {
	switch status {
	case transition.StatusPassed:
		return ":white_check_mark:"
	case transition.StatusFailed:
		return ":x:"
	default:
		return ":grey_question:"
	}
}
