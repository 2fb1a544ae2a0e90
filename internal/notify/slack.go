// Package notify mirrors ticket lifecycle events to Slack. The mirror is
// one-way and best-effort: a failed post is logged and dropped.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/dutybot-io/dutybot/pkg/protocol"
)

// Config holds the Slack credentials and destination channel.
type Config struct {
	Token   string
	Channel string
}

// SlackMirror posts open/close announcements to a Slack channel.
type SlackMirror struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

// New authenticates against Slack and returns a mirror.
func New(cfg Config, logger *slog.Logger) (*SlackMirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := slack.New(cfg.Token)
	auth, err := client.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("notify: slack auth: %w", err)
	}
	logger.Info("slack mirror authorized", "user", auth.User, "team", auth.Team)
	return &SlackMirror{client: client, channel: cfg.Channel, logger: logger}, nil
}

func (m *SlackMirror) TicketOpened(number, openedAt string) {
	m.post(fmt.Sprintf(":inbox_tray: ticket %s opened at %s",
		number, protocol.DisplayTime(openedAt)))
}

func (m *SlackMirror) TicketClosed(number, openedAt, closedAt string) {
	m.post(fmt.Sprintf(":white_check_mark: ticket %s closed at %s (opened %s)",
		number, protocol.DisplayTime(closedAt), protocol.DisplayTime(openedAt)))
}

// post runs async: callers hold the tracker lock and must not wait on Slack.
func (m *SlackMirror) post(text string) {
	go func() {
		_, _, err := m.client.PostMessage(m.channel, slack.MsgOptionText(text, false))
		if err != nil {
			m.logger.Error("notify: slack post failed", "error", err)
		}
	}()
}
