package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler keeps one recurring reminder job per open ticket number. All jobs
// share a single process-wide interval. Jobs fire in their own goroutines, so
// a slow or panicking callback never delays the other tickets.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	interval time.Duration
	entries  map[string]cron.EntryID // ticket number → cron entry
	logger   *slog.Logger
}

// New creates a scheduler whose jobs all fire at the given interval.
func New(interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.PrintfLogger(cronLogger{logger})),
		)),
		interval: interval,
		entries:  make(map[string]cron.EntryID),
		logger:   logger,
	}
}

// Start begins the cron runner. Blocks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("reminder scheduler started", "interval", s.interval)

	<-ctx.Done()
	s.cron.Stop()
	s.logger.Info("reminder scheduler stopped")
	return ctx.Err()
}

// Schedule registers a recurring reminder job for a ticket number. A number
// that already has a job is an error; callers guarantee at-most-one schedule
// per open ticket, and this guards the invariant.
func (s *Scheduler) Schedule(number string, fire func(number string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[number]; exists {
		return fmt.Errorf("scheduler: ticket %q already has a reminder job", number)
	}

	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { fire(number) })
	if err != nil {
		return fmt.Errorf("scheduler: schedule %q: %w", number, err)
	}
	s.entries[number] = id
	s.logger.Info("reminder scheduled", "ticket", number)
	return nil
}

// Cancel stops and removes the job for a ticket number. Cancelling a number
// with no job is a no-op; it happens when a close races a restore or a crash.
func (s *Scheduler) Cancel(number string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[number]
	if !ok {
		s.logger.Warn("no reminder job to cancel", "ticket", number)
		return
	}
	s.cron.Remove(id)
	delete(s.entries, number)
	s.logger.Info("reminder cancelled", "ticket", number)
}

// Restore re-registers jobs for a batch of ticket numbers. Used once at boot:
// only ticket records are persisted, so jobs are rebuilt from them.
func (s *Scheduler) Restore(numbers []string, fire func(number string)) {
	for _, number := range numbers {
		if err := s.Schedule(number, fire); err != nil {
			s.logger.Error("failed to restore reminder", "ticket", number, "error", err)
			continue
		}
		s.logger.Info("reminder restored", "ticket", number)
	}
}

// Active returns the ticket numbers with a registered job, sorted.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	numbers := make([]string, 0, len(s.entries))
	for number := range s.entries {
		numbers = append(numbers, number)
	}
	sort.Strings(numbers)
	return numbers
}

// Count returns the number of registered jobs.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// cronLogger adapts slog for cron's Recover chain, which reports callback
// panics through a Printf-style logger.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Printf(format string, args ...any) {
	c.logger.Error(fmt.Sprintf(format, args...))
}
