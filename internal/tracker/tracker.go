package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/pretty"

	"github.com/dutybot-io/dutybot/internal/connector"
	"github.com/dutybot-io/dutybot/internal/ticket"
	"github.com/dutybot-io/dutybot/pkg/protocol"
)

// Sentinel errors the command layer maps to user-visible replies.
var (
	ErrTicketExists   = errors.New("ticket already exists")
	ErrTicketNotFound = errors.New("ticket not found")
)

// Jobs is the reminder-job registry the tracker drives: one recurring job per
// open ticket number. Implementations invoke fire asynchronously each period.
type Jobs interface {
	Schedule(number string, fire func(number string)) error
	Cancel(number string)
	Restore(numbers []string, fire func(number string))
}

// Notifier mirrors lifecycle events to a secondary channel. Delivery is
// best-effort; ticket state never depends on it.
type Notifier interface {
	TicketOpened(number, openedAt string)
	TicketClosed(number, openedAt, closedAt string)
}

// Config holds the chat destinations and clock settings for the tracker.
type Config struct {
	ReminderChat connector.Location // reminders and their cleanup
	StatusChat   connector.Location // open/close announcements
	UTCOffset    int                // chat-local clock, hours east of UTC
}

// Tracker owns the open-ticket registry and drives the store, the reminder
// jobs, and the messenger through every lifecycle transition. All mutations
// are serialized under one mutex: store saves rewrite the whole file, so
// command handling and reminder fires must not interleave.
type Tracker struct {
	mu        sync.Mutex
	tickets   map[string]*protocol.Ticket
	store     ticket.Store
	jobs      Jobs
	messenger connector.Messenger
	notifier  Notifier
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a tracker. Call Boot before use to load persisted tickets and
// restore their reminder jobs.
func New(store ticket.Store, jobs Jobs, messenger connector.Messenger, cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	zone := time.FixedZone("chat", cfg.UTCOffset*3600)
	return &Tracker{
		tickets:   make(map[string]*protocol.Ticket),
		store:     store,
		jobs:      jobs,
		messenger: messenger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().In(zone) },
		logger:    logger,
	}
}

// SetNotifier attaches an optional event mirror.
func (t *Tracker) SetNotifier(n Notifier) {
	t.notifier = n
}

// Boot loads the persisted registry and restores one reminder job per ticket.
// A malformed backing file is returned as an error: treating it as empty
// would silently drop every open ticket on the next save.
func (t *Tracker) Boot() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tickets, err := t.store.Load()
	if err != nil {
		return fmt.Errorf("tracker: boot: %w", err)
	}
	t.tickets = tickets

	numbers := make([]string, 0, len(tickets))
	for number := range tickets {
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)
	t.jobs.Restore(numbers, t.SendReminder)
	return nil
}

// OpenRequest carries everything captured from the opening command.
type OpenRequest struct {
	Number           string
	Origin           connector.Location // chat/thread of the reply target
	OriginMessageID  int                // the message whose caption named the ticket
	CommandMessageID int                // the command message itself, deleted after opening
	CommandLocation  connector.Location
}

// Open registers a new ticket: announces it in the status chat, persists it,
// and schedules its reminder job. The triggering command message is deleted
// best-effort afterwards.
func (t *Tracker) Open(ctx context.Context, req OpenRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.tickets[req.Number]; exists {
		return fmt.Errorf("tracker: open %q: %w", req.Number, ErrTicketExists)
	}

	openedAt := t.now().Format(protocol.TimeLayout)
	statusText := fmt.Sprintf("%s\n📥 opened at %s",
		connector.Escape(req.Number), protocol.DisplayTime(openedAt))
	statusID, err := t.messenger.Send(ctx, t.cfg.StatusChat, statusText)
	if err != nil {
		t.logger.Error("status announcement failed", "ticket", req.Number, "error", err)
	}

	t.tickets[req.Number] = &protocol.Ticket{
		StartTime:      openedAt,
		ChatID:         req.Origin.ChatID,
		ThreadID:       req.Origin.ThreadID,
		MessageID:      req.OriginMessageID,
		OpensMessageID: statusID,
		Notifications:  []int{},
	}
	t.persist()

	if err := t.jobs.Schedule(req.Number, t.SendReminder); err != nil {
		t.logger.Error("failed to schedule reminder", "ticket", req.Number, "error", err)
	}
	t.logger.Info("ticket opened", "ticket", req.Number, "opened_at", openedAt)

	if t.notifier != nil {
		t.notifier.TicketOpened(req.Number, openedAt)
	}

	t.deleteMessage(ctx, req.CommandLocation, req.CommandMessageID, "open command")
	return nil
}

// CloseRequest identifies the ticket to close and the closing command message.
type CloseRequest struct {
	Number           string
	CommandMessageID int
	CommandLocation  connector.Location
}

// Close finalizes a ticket: the status announcement gets its closure
// timestamp, the origin message and every reminder message are deleted (each
// attempt independent), the reminder job is cancelled, and the record is
// removed and persisted.
func (t *Tracker) Close(ctx context.Context, req CloseRequest) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, exists := t.tickets[req.Number]
	if !exists {
		return fmt.Errorf("tracker: close %q: %w", req.Number, ErrTicketNotFound)
	}

	closedAt := t.now().Format(protocol.TimeLayout)
	if tk.OpensMessageID != 0 {
		statusText := fmt.Sprintf("%s\n📥 opened at %s\n✅ closed at %s",
			connector.Escape(req.Number), protocol.DisplayTime(tk.StartTime), protocol.DisplayTime(closedAt))
		if err := t.messenger.Edit(ctx, t.cfg.StatusChat, tk.OpensMessageID, statusText); err != nil {
			t.logger.Error("failed to update status announcement", "ticket", req.Number, "error", err)
		}
	}

	origin := connector.Location{ChatID: tk.ChatID, ThreadID: tk.ThreadID}
	t.deleteMessage(ctx, origin, tk.MessageID, "ticket origin")
	for _, id := range tk.Notifications {
		t.deleteMessage(ctx, t.cfg.ReminderChat, id, "reminder")
	}

	t.jobs.Cancel(req.Number)
	delete(t.tickets, req.Number)
	t.persist()
	t.logger.Info("ticket closed", "ticket", req.Number, "closed_at", closedAt)

	if t.notifier != nil {
		t.notifier.TicketClosed(req.Number, tk.StartTime, closedAt)
	}

	t.deleteMessage(ctx, req.CommandLocation, req.CommandMessageID, "close command")
	return nil
}

// SendReminder is invoked by the reminder jobs. A number that is no longer
// registered means the fire raced a close; that is expected and harmless.
func (t *Tracker) SendReminder(number string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, exists := t.tickets[number]
	if !exists {
		t.logger.Debug("reminder fired for unknown ticket", "ticket", number)
		return
	}

	tk.RemindTimes++
	text := fmt.Sprintf("%s: open for %d min",
		connector.Escape(number), t.elapsedMinutes(tk.StartTime))
	id, err := t.messenger.Send(context.Background(), t.cfg.ReminderChat, text)
	if err != nil {
		t.logger.Error("failed to send reminder", "ticket", number, "error", err)
	} else {
		tk.Notifications = append(tk.Notifications, id)
	}
	t.persist()
	t.logger.Info("reminder sent", "ticket", number, "remind_times", tk.RemindTimes)
}

// RenderList returns the live registry as indented JSON.
func (t *Tracker) RenderList() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.MarshalIndent(t.tickets, "", "    ")
	if err != nil {
		return "", fmt.Errorf("tracker: render list: %w", err)
	}
	return string(data), nil
}

// RenderDump returns the backing file as persisted, reformatted for reading.
// It deliberately reads the file, not the in-memory registry, so operators
// can verify what actually survived the last save.
func (t *Tracker) RenderDump() (string, error) {
	raw, err := t.store.Raw()
	if err != nil {
		return "", fmt.Errorf("tracker: render dump: %w", err)
	}
	return string(pretty.Pretty(raw)), nil
}

// Tickets returns a copy of the registry for read-only consumers.
func (t *Tracker) Tickets() map[string]*protocol.Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]*protocol.Ticket, len(t.tickets))
	for number, tk := range t.tickets {
		out[number] = copyTicket(tk)
	}
	return out
}

// Ticket returns one ticket by number.
func (t *Tracker) Ticket(number string) (*protocol.Ticket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tickets[number]
	if !ok {
		return nil, false
	}
	return copyTicket(tk), true
}

// Count returns the number of open tickets.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tickets)
}

// Flush saves the registry and reports failure; used at shutdown.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.Save(t.tickets); err != nil {
		return fmt.Errorf("tracker: flush: %w", err)
	}
	return nil
}

// persist saves the registry. Failures are logged, not propagated: the
// in-memory registry stays authoritative until the next successful save.
func (t *Tracker) persist() {
	if err := t.store.Save(t.tickets); err != nil {
		t.logger.Error("failed to save tickets", "error", err)
	}
}

// deleteMessage is the best-effort cleanup path shared by open and close.
func (t *Tracker) deleteMessage(ctx context.Context, loc connector.Location, messageID int, what string) {
	if messageID == 0 {
		return
	}
	if err := t.messenger.Delete(ctx, loc, messageID); err != nil {
		t.logger.Warn("failed to delete message",
			"kind", what,
			"message_id", messageID,
			"error", err,
		)
	}
}

func (t *Tracker) elapsedMinutes(startTime string) int {
	start, err := time.ParseInLocation(protocol.TimeLayout, startTime, t.now().Location())
	if err != nil {
		t.logger.Warn("unparseable start_time", "start_time", startTime, "error", err)
		return 0
	}
	return int(t.now().Sub(start) / time.Minute)
}

func copyTicket(tk *protocol.Ticket) *protocol.Ticket {
	c := *tk
	c.Notifications = append([]int(nil), tk.Notifications...)
	return &c
}
