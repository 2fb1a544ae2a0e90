package tracker

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dutybot-io/dutybot/internal/connector"
	"github.com/dutybot-io/dutybot/pkg/protocol"
)

// --- fakes ---

type sentMessage struct {
	loc  connector.Location
	text string
	id   int
}

type fakeMessenger struct {
	mu       sync.Mutex
	nextID   int
	sent     []sentMessage
	edited   map[int]string
	deleted  []int
	failSend bool
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{edited: make(map[int]string)}
}

func (f *fakeMessenger) Send(_ context.Context, loc connector.Location, text string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return 0, errors.New("transport down")
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{loc: loc, text: text, id: f.nextID})
	return f.nextID, nil
}

func (f *fakeMessenger) Edit(_ context.Context, _ connector.Location, messageID int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited[messageID] = text
	return nil
}

func (f *fakeMessenger) Delete(_ context.Context, _ connector.Location, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

type fakeJobs struct {
	scheduled map[string]func(string)
	cancelled []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{scheduled: make(map[string]func(string))}
}

func (f *fakeJobs) Schedule(number string, fire func(string)) error {
	if _, exists := f.scheduled[number]; exists {
		return fmt.Errorf("duplicate job for %q", number)
	}
	f.scheduled[number] = fire
	return nil
}

func (f *fakeJobs) Cancel(number string) {
	delete(f.scheduled, number)
	f.cancelled = append(f.cancelled, number)
}

func (f *fakeJobs) Restore(numbers []string, fire func(string)) {
	for _, n := range numbers {
		f.Schedule(n, fire)
	}
}

type memStore struct {
	tickets  map[string]*protocol.Ticket
	saves    int
	failSave bool
}

func newMemStore() *memStore {
	return &memStore{tickets: make(map[string]*protocol.Ticket)}
}

func (m *memStore) Load() (map[string]*protocol.Ticket, error) {
	out := make(map[string]*protocol.Ticket, len(m.tickets))
	for k, v := range m.tickets {
		c := *v
		out[k] = &c
	}
	return out, nil
}

func (m *memStore) Save(tickets map[string]*protocol.Ticket) error {
	if m.failSave {
		return errors.New("disk full")
	}
	m.saves++
	m.tickets = make(map[string]*protocol.Ticket, len(tickets))
	for k, v := range tickets {
		c := *v
		c.Notifications = append([]int(nil), v.Notifications...)
		m.tickets[k] = &c
	}
	return nil
}

func (m *memStore) Raw() ([]byte, error) {
	return []byte(`{"raw":true}`), nil
}

// --- helpers ---

func newTestTracker(store *memStore, jobs *fakeJobs, msgr *fakeMessenger) *Tracker {
	trk := New(store, jobs, msgr, Config{
		ReminderChat: connector.Location{ChatID: -200},
		StatusChat:   connector.Location{ChatID: -300},
		UTCOffset:    3,
	}, nil)
	return trk
}

func openRequest(number string) OpenRequest {
	return OpenRequest{
		Number:           number,
		Origin:           connector.Location{ChatID: -100, ThreadID: 5},
		OriginMessageID:  40,
		CommandMessageID: 41,
		CommandLocation:  connector.Location{ChatID: -100, ThreadID: 5},
	}
}

// --- tests ---

func TestOpenRegistersTicket(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	trk := newTestTracker(store, jobs, msgr)

	if err := trk.Open(context.Background(), openRequest("T-100")); err != nil {
		t.Fatalf("Open: %v", err)
	}

	tk, ok := trk.Ticket("T-100")
	if !ok {
		t.Fatal("ticket not registered")
	}
	if tk.ChatID != -100 || tk.ThreadID != 5 || tk.MessageID != 40 {
		t.Errorf("origin = %+v", tk)
	}
	if tk.RemindTimes != 0 || len(tk.Notifications) != 0 {
		t.Errorf("fresh ticket has reminder state: %+v", tk)
	}
	if tk.OpensMessageID == 0 {
		t.Error("status announcement id not captured")
	}
	if _, ok := jobs.scheduled["T-100"]; !ok {
		t.Error("reminder job not scheduled")
	}
	if store.saves != 1 {
		t.Errorf("saves = %d", store.saves)
	}
	// Status announcement went to the status chat, command message deleted.
	if len(msgr.sent) != 1 || msgr.sent[0].loc.ChatID != -300 {
		t.Errorf("sent = %+v", msgr.sent)
	}
	if len(msgr.deleted) != 1 || msgr.deleted[0] != 41 {
		t.Errorf("deleted = %v", msgr.deleted)
	}
}

func TestOpenDuplicate(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	trk := newTestTracker(store, jobs, msgr)

	trk.Open(context.Background(), openRequest("T-200"))
	before, _ := trk.Ticket("T-200")
	savesBefore := store.saves

	err := trk.Open(context.Background(), openRequest("T-200"))
	if !errors.Is(err, ErrTicketExists) {
		t.Fatalf("expected ErrTicketExists, got %v", err)
	}

	after, _ := trk.Ticket("T-200")
	if !reflect.DeepEqual(before, after) {
		t.Error("duplicate open mutated existing ticket")
	}
	if store.saves != savesBefore {
		t.Error("duplicate open persisted")
	}
	if trk.Count() != 1 {
		t.Errorf("Count = %d", trk.Count())
	}
}

func TestCloseUnknown(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	trk := newTestTracker(store, jobs, msgr)

	err := trk.Close(context.Background(), CloseRequest{Number: "T-404"})
	if !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
	if store.saves != 0 {
		t.Error("close of unknown ticket persisted")
	}
}

func TestOpenCloseRoundTrip(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	trk := newTestTracker(store, jobs, msgr)
	ctx := context.Background()

	trk.Open(ctx, openRequest("T-300"))
	tk, _ := trk.Ticket("T-300")

	// Two reminders before closing.
	trk.SendReminder("T-300")
	trk.SendReminder("T-300")

	err := trk.Close(ctx, CloseRequest{
		Number:           "T-300",
		CommandMessageID: 60,
		CommandLocation:  connector.Location{ChatID: -100},
	})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, ok := trk.Ticket("T-300"); ok {
		t.Error("ticket still registered after close")
	}
	if _, ok := jobs.scheduled["T-300"]; ok {
		t.Error("reminder job still scheduled after close")
	}
	if len(jobs.cancelled) != 1 || jobs.cancelled[0] != "T-300" {
		t.Errorf("cancelled = %v", jobs.cancelled)
	}
	if _, ok := msgr.edited[tk.OpensMessageID]; !ok {
		t.Error("status announcement not edited on close")
	}
	if !strings.Contains(msgr.edited[tk.OpensMessageID], "closed at") {
		t.Errorf("status edit = %q", msgr.edited[tk.OpensMessageID])
	}
	// Deletions: open command, origin, 2 reminders, close command.
	if len(msgr.deleted) != 5 {
		t.Errorf("deleted %d messages: %v", len(msgr.deleted), msgr.deleted)
	}
	if len(store.tickets) != 0 {
		t.Error("close not persisted")
	}
}

func TestReminderMonotonic(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	trk := newTestTracker(store, jobs, msgr)

	trk.Open(context.Background(), openRequest("T-400"))

	for i := 1; i <= 3; i++ {
		trk.SendReminder("T-400")
		tk, _ := trk.Ticket("T-400")
		if tk.RemindTimes != i {
			t.Fatalf("after fire %d: remind_times = %d", i, tk.RemindTimes)
		}
		if len(tk.Notifications) != i {
			t.Fatalf("after fire %d: notifications = %v", i, tk.Notifications)
		}
	}

	tk, _ := trk.Ticket("T-400")
	seen := make(map[int]bool)
	for _, id := range tk.Notifications {
		if seen[id] {
			t.Errorf("duplicate notification id %d", id)
		}
		seen[id] = true
	}
	// Each fire persisted.
	if got := store.tickets["T-400"].RemindTimes; got != 3 {
		t.Errorf("persisted remind_times = %d", got)
	}
}

func TestReminderElapsedTime(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	trk := newTestTracker(store, jobs, msgr)

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.FixedZone("chat", 3*3600))
	trk.now = func() time.Time { return base }
	trk.Open(context.Background(), openRequest("T-100"))

	trk.now = func() time.Time { return base.Add(42 * time.Minute) }
	trk.SendReminder("T-100")

	last := msgr.sent[len(msgr.sent)-1]
	if last.loc.ChatID != -200 {
		t.Errorf("reminder went to chat %d", last.loc.ChatID)
	}
	if !strings.Contains(last.text, "T-100: open for 42 min") {
		t.Errorf("reminder text = %q", last.text)
	}
}

func TestReminderStale(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	trk := newTestTracker(store, jobs, msgr)

	trk.SendReminder("T-999")

	if len(msgr.sent) != 0 {
		t.Error("stale reminder sent a message")
	}
	if store.saves != 0 {
		t.Error("stale reminder persisted")
	}
}

func TestReminderSendFailure(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	trk := newTestTracker(store, jobs, msgr)

	trk.Open(context.Background(), openRequest("T-500"))
	msgr.failSend = true
	trk.SendReminder("T-500")

	tk, _ := trk.Ticket("T-500")
	if len(tk.Notifications) != 0 {
		t.Errorf("failed send recorded a message id: %v", tk.Notifications)
	}
}

func TestBootRestoresJobs(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	store.tickets = map[string]*protocol.Ticket{
		"T-1": {StartTime: "10:00 01.01.2025", ChatID: -100, Notifications: []int{}},
		"T-2": {StartTime: "11:00 01.01.2025", ChatID: -100, Notifications: []int{7}},
	}
	trk := newTestTracker(store, jobs, msgr)

	if err := trk.Boot(); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if trk.Count() != 2 {
		t.Errorf("Count = %d", trk.Count())
	}
	if len(jobs.scheduled) != 2 {
		t.Errorf("restored jobs = %d", len(jobs.scheduled))
	}

	tk, ok := trk.Ticket("T-2")
	if !ok || tk.StartTime != "11:00 01.01.2025" || len(tk.Notifications) != 1 {
		t.Errorf("restored ticket = %+v", tk)
	}
}

func TestPersistenceFailureKeepsMemory(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	store.failSave = true
	trk := newTestTracker(store, jobs, msgr)

	if err := trk.Open(context.Background(), openRequest("T-600")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := trk.Ticket("T-600"); !ok {
		t.Error("save failure dropped the in-memory ticket")
	}
}

func TestTransportFailureStillOpens(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	msgr.failSend = true
	trk := newTestTracker(store, jobs, msgr)

	if err := trk.Open(context.Background(), openRequest("T-700")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	tk, ok := trk.Ticket("T-700")
	if !ok {
		t.Fatal("ticket not registered")
	}
	if tk.OpensMessageID != 0 {
		t.Errorf("OpensMessageID = %d, want 0 after failed announcement", tk.OpensMessageID)
	}
}

func TestConcurrentOpenSameNumber(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	trk := newTestTracker(store, jobs, msgr)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = trk.Open(context.Background(), openRequest("T-200"))
		}(i)
	}
	wg.Wait()

	var existsCount int
	for _, err := range errs {
		if errors.Is(err, ErrTicketExists) {
			existsCount++
		} else if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if existsCount != 1 {
		t.Errorf("expected exactly one rejection, got %d", existsCount)
	}
	if trk.Count() != 1 {
		t.Errorf("Count = %d", trk.Count())
	}
}

func TestRenderList(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	trk := newTestTracker(store, jobs, msgr)
	trk.Open(context.Background(), openRequest("T-800"))

	out, err := trk.RenderList()
	if err != nil {
		t.Fatalf("RenderList: %v", err)
	}
	if !strings.Contains(out, `"T-800"`) {
		t.Errorf("list missing ticket: %s", out)
	}
	if !strings.Contains(out, `"remind_times": 0`) {
		t.Errorf("list missing fields: %s", out)
	}
}

func TestNotifierEvents(t *testing.T) {
	store, jobs, msgr := newMemStore(), newFakeJobs(), newFakeMessenger()
	trk := newTestTracker(store, jobs, msgr)

	var events []string
	trk.SetNotifier(funcNotifier(func(e string) { events = append(events, e) }))

	ctx := context.Background()
	trk.Open(ctx, openRequest("T-900"))
	trk.Close(ctx, CloseRequest{Number: "T-900"})

	if len(events) != 2 || events[0] != "opened:T-900" || events[1] != "closed:T-900" {
		t.Errorf("events = %v", events)
	}
}

type funcNotifier func(string)

func (f funcNotifier) TicketOpened(number, _ string) { f("opened:" + number) }

func (f funcNotifier) TicketClosed(number, _, _ string) { f("closed:" + number) }
