// Package audit periodically checks that every session's action counter
// agrees with its stored rows.
package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/roach88/duel/internal/store"
)

// GapFinder is the store query the auditor runs.
type GapFinder interface {
	FindGaps(ctx context.Context) ([]store.Gap, error)
}

// ErrRunning is returned by Start when the auditor is already scheduled.
var ErrRunning = errors.New("audit already running")

// Auditor reports sequence gaps.
type Auditor struct {
	src    GapFinder
	logger *slog.Logger
	report func([]store.Gap)

	mu    sync.Mutex
	sched gocron.Scheduler
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithLogger sets the logger gaps are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(a *Auditor) { a.logger = l }
}

// WithReport registers fn to receive the result of every scheduled check.
func WithReport(fn func([]store.Gap)) Option {
	return func(a *Auditor) { a.report = fn }
}

// New creates an auditor over src.
func New(src GapFinder, opts ...Option) *Auditor {
	a := &Auditor{
		src:    src,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Check runs one audit. Each gap is logged at error level; a clean log
// produces a single debug line.
func (a *Auditor) Check(ctx context.Context) ([]store.Gap, error) {
	gaps, err := a.src.FindGaps(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	for _, g := range gaps {
		a.logger.Error("sequence gap",
			"session", g.SessionKey,
			"action_count", g.ActionCount,
			"rows", g.Rows,
			"max_seq", g.MaxSeq,
		)
	}
	if len(gaps) == 0 {
		a.logger.Debug("audit clean")
	}
	return gaps, nil
}

// Start schedules Check every interval, beginning immediately. Runs never
// overlap: a slow check delays the next one.
func (a *Auditor) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("audit: interval must be positive, got %s", interval)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sched != nil {
		return ErrRunning
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("audit: new scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(a.run),
		gocron.WithName("sequence-gap-audit"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = sched.Shutdown()
		return fmt.Errorf("audit: schedule: %w", err)
	}
	sched.Start()
	a.sched = sched
	a.logger.Info("audit scheduled", "interval", interval)
	return nil
}

// Stop cancels the schedule and waits for a running check to finish.
func (a *Auditor) Stop() error {
	a.mu.Lock()
	sched := a.sched
	a.sched = nil
	a.mu.Unlock()

	if sched == nil {
		return nil
	}
	if err := sched.Shutdown(); err != nil {
		return fmt.Errorf("audit: shutdown: %w", err)
	}
	return nil
}

func (a *Auditor) run() {
	gaps, err := a.Check(context.Background())
	if err != nil {
		a.logger.Error("audit failed", "error", err)
		return
	}
	if a.report != nil {
		a.report(gaps)
	}
}
