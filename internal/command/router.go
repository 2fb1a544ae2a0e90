package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dutybot-io/dutybot/internal/connector"
	"github.com/dutybot-io/dutybot/internal/tracker"
)

const malformedReply = "Reply to the message whose caption is the ticket number."

const helpText = `Reply + to a ticket message to open it.
Reply - to a ticket message to close it.
list: show open tickets.
dump: show the persisted ticket file.
tid: show the current topic id.`

// Lifecycle is the subset of the tracker the router drives.
type Lifecycle interface {
	Open(ctx context.Context, req tracker.OpenRequest) error
	Close(ctx context.Context, req tracker.CloseRequest) error
	RenderList() (string, error)
	RenderDump() (string, error)
}

// Router turns inbound group messages into lifecycle calls and replies.
type Router struct {
	lifecycle Lifecycle
	messenger connector.Messenger
	logger    *slog.Logger
}

func NewRouter(lifecycle Lifecycle, messenger connector.Messenger, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{lifecycle: lifecycle, messenger: messenger, logger: logger}
}

// Handle processes one inbound message. Non-group and empty messages are
// ignored. Send failures on replies are logged, not returned: the command
// itself already ran.
func (r *Router) Handle(ctx context.Context, msg connector.Inbound) error {
	if !msg.Group || strings.TrimSpace(msg.Text) == "" {
		return nil
	}

	switch Parse(msg.Text) {
	case KindOpen:
		return r.handleOpen(ctx, msg)
	case KindClose:
		return r.handleClose(ctx, msg)
	case KindList:
		return r.handleList(ctx, msg)
	case KindDump:
		return r.handleDump(ctx, msg)
	case KindHelp:
		r.reply(ctx, msg, helpText)
	case KindTopicID:
		r.reply(ctx, msg, fmt.Sprintf("topic id: %d", msg.Location.ThreadID))
	}
	return nil
}

func (r *Router) handleOpen(ctx context.Context, msg connector.Inbound) error {
	number, ok := ticketNumber(msg)
	if !ok {
		r.reply(ctx, msg, malformedReply)
		return nil
	}

	err := r.lifecycle.Open(ctx, tracker.OpenRequest{
		Number:           number,
		Origin:           msg.Reply.Location,
		OriginMessageID:  msg.Reply.MessageID,
		CommandMessageID: msg.MessageID,
		CommandLocation:  msg.Location,
	})
	if errors.Is(err, tracker.ErrTicketExists) {
		r.reply(ctx, msg, fmt.Sprintf("Ticket %s already exists.", number))
		return nil
	}
	return err
}

func (r *Router) handleClose(ctx context.Context, msg connector.Inbound) error {
	number, ok := ticketNumber(msg)
	if !ok {
		r.reply(ctx, msg, malformedReply)
		return nil
	}

	err := r.lifecycle.Close(ctx, tracker.CloseRequest{
		Number:           number,
		CommandMessageID: msg.MessageID,
		CommandLocation:  msg.Location,
	})
	if errors.Is(err, tracker.ErrTicketNotFound) {
		r.reply(ctx, msg, fmt.Sprintf("Ticket %s not found.", number))
		return nil
	}
	return err
}

func (r *Router) handleList(ctx context.Context, msg connector.Inbound) error {
	out, err := r.lifecycle.RenderList()
	if err != nil {
		return fmt.Errorf("command: list: %w", err)
	}
	r.reply(ctx, msg, connector.Pre(out))
	return nil
}

func (r *Router) handleDump(ctx context.Context, msg connector.Inbound) error {
	out, err := r.lifecycle.RenderDump()
	if err != nil {
		return fmt.Errorf("command: dump: %w", err)
	}
	r.reply(ctx, msg, connector.Pre(out))
	return nil
}

func (r *Router) reply(ctx context.Context, msg connector.Inbound, text string) {
	if _, err := r.messenger.Send(ctx, msg.Location, text); err != nil {
		r.logger.Error("command: reply failed",
			"chat_id", msg.Location.ChatID, "error", err)
	}
}

// ticketNumber extracts the ticket number from the reply target's caption.
// Numbers are trimmed but otherwise taken verbatim.
func ticketNumber(msg connector.Inbound) (string, bool) {
	if msg.Reply == nil {
		return "", false
	}
	number := strings.TrimSpace(msg.Reply.Caption)
	return number, number != ""
}
