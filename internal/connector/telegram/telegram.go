package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dutybot-io/dutybot/internal/connector"
)

const longPollSeconds = 30

// Config holds Telegram connector configuration.
type Config struct {
	Token string // bot token from @BotFather
}

// Connector implements connector.Messenger over the Telegram Bot API and
// long-polls for inbound group messages.
//
// The pinned bot library predates forum topics (Bot API 6.3), so requests
// that need message_thread_id go through MakeRequest with hand-built params,
// and updates are decoded by the wire types in update.go.
type Connector struct {
	bot     *tgbotapi.BotAPI
	handler connector.Handler
	logger  *slog.Logger
	cancel  context.CancelFunc
	offset  int
}

// New authenticates the bot and returns the connector.
func New(cfg Config, handler connector.Handler, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		handler: handler,
		logger:  logger,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Start long-polls for updates. Blocks until the context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		default:
		}

		updates, err := c.getUpdates()
		if err != nil {
			c.logger.Error("get updates failed", "error", err)
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= c.offset {
				c.offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Chat == nil {
				continue
			}
			if err := c.handler(ctx, u.Message.inbound()); err != nil {
				c.logger.Error("inbound handler error", "chat_id", u.Message.Chat.ID, "error", err)
			}
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send posts text at the location and returns the new message's id.
func (c *Connector) Send(_ context.Context, loc connector.Location, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		c.logger.Warn("skipping empty message", "chat_id", loc.ChatID)
		return 0, nil
	}

	id, err := c.send(loc, text, "HTML")
	if err != nil {
		// Telegram rejects malformed HTML wholesale; retry as plain text.
		c.logger.Warn("HTML send failed, falling back to plain text",
			"chat_id", loc.ChatID,
			"error", err,
		)
		return c.send(loc, text, "")
	}
	return id, nil
}

func (c *Connector) send(loc connector.Location, text, parseMode string) (int, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", loc.ChatID)
	params.AddNonZero("message_thread_id", loc.ThreadID)
	params["text"] = text
	params.AddNonEmpty("parse_mode", parseMode)
	params.AddBool("disable_web_page_preview", true)

	resp, err := c.bot.MakeRequest("sendMessage", params)
	if err != nil {
		return 0, fmt.Errorf("telegram: send: %w", err)
	}

	var sent struct {
		MessageID int `json:"message_id"`
	}
	if err := json.Unmarshal(resp.Result, &sent); err != nil {
		return 0, fmt.Errorf("telegram: decode sent message: %w", err)
	}
	return sent.MessageID, nil
}

// Edit replaces the text of an existing message.
func (c *Connector) Edit(_ context.Context, loc connector.Location, messageID int, text string) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", loc.ChatID)
	params.AddNonZero("message_id", messageID)
	params["text"] = text
	params.AddNonEmpty("parse_mode", "HTML")

	if _, err := c.bot.MakeRequest("editMessageText", params); err != nil {
		return fmt.Errorf("telegram: edit message %d: %w", messageID, err)
	}
	return nil
}

// Delete removes a message.
func (c *Connector) Delete(_ context.Context, loc connector.Location, messageID int) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", loc.ChatID)
	params.AddNonZero("message_id", messageID)

	if _, err := c.bot.MakeRequest("deleteMessage", params); err != nil {
		return fmt.Errorf("telegram: delete message %d: %w", messageID, err)
	}
	return nil
}

func (c *Connector) getUpdates() ([]update, error) {
	params := tgbotapi.Params{}
	params.AddNonZero("offset", c.offset)
	params.AddNonZero("timeout", longPollSeconds)

	resp, err := c.bot.MakeRequest("getUpdates", params)
	if err != nil {
		return nil, fmt.Errorf("telegram: get updates: %w", err)
	}

	var updates []update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("telegram: decode updates: %w", err)
	}
	return updates, nil
}
