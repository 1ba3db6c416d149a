package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/duel/internal/card"
	"github.com/roach88/duel/internal/engine"
	"github.com/roach88/duel/internal/replay"
	"github.com/roach88/duel/internal/session"
	"github.com/roach88/duel/internal/snapshot"
	"github.com/roach88/duel/internal/store"
	"github.com/roach88/duel/internal/testutil"
)

// Harness holds the wiring of one scenario run.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	notifier *testutil.RecordingNotifier
	replay   *replay.Service
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Open the store and wire registry, engine and notifier
// 2. Play every step through the engine
// 3. Read each session's log and reconstruct its board
// 4. Evaluate assertions
//
// An error is returned only when the run itself breaks (storage failure,
// unencodable step). Events the engine refused are recorded as rejections.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	clock := testutil.NewFakeClock(time.Time{})
	clock.Tick(time.Millisecond)

	st, err := store.Open(":memory:", store.WithNow(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(st, scenario, clock)
	result := NewResult()

	if err := h.play(ctx, scenario.Steps, result); err != nil {
		return nil, err
	}
	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(st *store.Store, scenario *Scenario, clock *testutil.FakeClock) *Harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var codes session.Generator = testutil.NewSequenceGenerator("ROOM")
	if len(scenario.RoomCodes) > 0 {
		codes = session.NewFixedGenerator(scenario.RoomCodes...)
	}
	reg := session.New(st,
		session.WithKeyGenerator(testutil.NewSequenceGenerator("session")),
		session.WithCodeGenerator(codes),
		session.WithScheduler(snapshot.Scheduler{Interval: scenario.SnapshotInterval}),
		session.WithNow(clock.Now),
		session.WithLogger(logger),
	)

	notifier := testutil.NewRecordingNotifier()
	replays := replay.NewService(st, replay.NewReducer(card.NewIndex(scenario.Cards), logger), logger)
	return &Harness{
		store: st,
		engine: engine.New(reg, st, notifier,
			engine.WithLogger(logger),
			engine.WithCheckpointer(replays),
		),
		notifier: notifier,
		replay:   replays,
	}
}

// play sends every step through the engine in order.
func (h *Harness) play(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		if step.Disconnect {
			h.engine.Disconnect(ctx, step.As)
			continue
		}

		env, err := step.Envelope()
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		err = h.engine.HandleEvent(ctx, step.As, env)
		if err == nil {
			continue
		}
		if engine.IsPersistenceError(err) {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		code, _ := engine.CodeOf(err)
		result.Rejections = append(result.Rejections, Rejection{
			Step:        i + 1,
			Participant: step.As,
			Event:       step.Event,
			Code:        string(code),
		})
	}
	return nil
}

// collect reads back every session in creation order and reconstructs it.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	sessions, err := h.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	// ListSessions is newest first.
	for i := len(sessions) - 1; i >= 0; i-- {
		sess := sessions[i]
		log, err := h.store.ReadActions(ctx, sess.Key)
		if err != nil {
			return fmt.Errorf("read log %s: %w", sess.Key, err)
		}
		rebuilt, err := h.replay.Reconstruct(ctx, sess.Key, 0)
		if err != nil {
			return fmt.Errorf("reconstruct %s: %w", sess.Key, err)
		}
		result.Sessions = append(result.Sessions, SessionOutcome{
			Key:      sess.Key,
			RoomCode: sess.RoomCode,
			Log:      log,
			Replay:   rebuilt,
		})
	}

	result.Deliveries = h.notifier.All()
	return nil
}
