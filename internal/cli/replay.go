package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/roach88/duel/internal/card"
	"github.com/roach88/duel/internal/replay"
	"github.com/roach88/duel/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database  string
	Session   string // optional - specific session only
	Seq       int64  // optional - stop at this seq
	CardIndex string // optional - card list for resolving board views
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	SessionKey    string           `json:"session_key"`
	RoomCode      string           `json:"room_code"`
	StartSeq      int64            `json:"start_seq"`
	Seq           int64            `json:"seq"`
	Applied       int              `json:"applied"`
	Anomalies     []replay.Anomaly `json:"anomalies"`
	Summary       string           `json:"summary"`
	Deterministic bool             `json:"deterministic"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions         []ReplaySessionResult `json:"sessions"`
	TotalSessions    int                   `json:"total_sessions"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reconstruct session boards and verify determinism",
		Long: `Reconstruct the board of one or every session from its action log.

Each session is reconstructed twice, starting from its latest snapshot, and
the two results are compared to verify the fold is deterministic. The final
board of each zone is printed.

Exit codes:
  0 - All sessions are deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, unknown session, etc.)

Examples:
  duel replay --db ./duel.db
  duel replay --db ./duel.db --session 0190f3c2-... --seq 120
  duel replay --db ./duel.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay specific session only")
	cmd.Flags().Int64Var(&opts.Seq, "seq", 0, "stop at this sequence number (0 = end of log)")
	cmd.Flags().StringVar(&opts.CardIndex, "cards", "", "card index file (.json or .yaml)")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := NewOutputFormatter(opts.RootOptions, cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	idx := card.EmptyIndex()
	if opts.CardIndex != "" {
		if idx, err = card.LoadIndex(opts.CardIndex); err != nil {
			_ = out.Error(CodeCardIndex, "failed to load card index", err.Error())
			return WrapExitError(ExitCommandError, "failed to load card index", err)
		}
	}
	logger := diagnosticLogger(opts.RootOptions, cmd)
	svc := replay.NewService(st, replay.NewReducer(idx, logger), logger)

	var sessions []store.Session
	if opts.Session != "" {
		sess, err := st.GetSession(ctx, opts.Session)
		if errors.Is(err, store.ErrSessionNotFound) {
			_ = out.Error(CodeNotFound, "session not found", opts.Session)
			return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", opts.Session))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read session", err)
		}
		sessions = []store.Session{sess}
	} else {
		sessions, err = st.ListSessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
	}

	result := ReplayResult{
		Sessions:         make([]ReplaySessionResult, 0, len(sessions)),
		TotalSessions:    len(sessions),
		AllDeterministic: true,
	}
	for _, sess := range sessions {
		out.VerboseLog("replaying %s", sess.Key)
		r, err := replayAndVerify(ctx, svc, sess, opts.Seq)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay session %s", sess.Key), err)
		}
		result.Sessions = append(result.Sessions, r)
		if !r.Deterministic {
			result.AllDeterministic = false
		}
	}

	if !result.AllDeterministic {
		if err := out.Failure(CodeDeterminism, "determinism verification failed", result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return out.Success(result)
}

// replayAndVerify reconstructs a session twice and compares the results.
func replayAndVerify(ctx context.Context, svc *replay.Service, sess store.Session, upTo int64) (ReplaySessionResult, error) {
	first, err := svc.Reconstruct(ctx, sess.Key, upTo)
	if err != nil {
		return ReplaySessionResult{}, fmt.Errorf("first replay failed: %w", err)
	}
	second, err := svc.Reconstruct(ctx, sess.Key, upTo)
	if err != nil {
		return ReplaySessionResult{}, fmt.Errorf("second replay failed: %w", err)
	}

	anomalies := first.Anomalies
	if anomalies == nil {
		anomalies = []replay.Anomaly{}
	}
	return ReplaySessionResult{
		SessionKey:    sess.Key,
		RoomCode:      sess.RoomCode,
		StartSeq:      first.StartSeq,
		Seq:           first.Seq,
		Applied:       first.Applied,
		Anomalies:     anomalies,
		Summary:       first.Board.Summary(),
		Deterministic: reflect.DeepEqual(first, second),
	}, nil
}

// RenderText implements TextRenderer.
func (r ReplayResult) RenderText(w io.Writer, verbose bool) {
	if r.TotalSessions == 0 {
		fmt.Fprintln(w, "No sessions found in database.")
		return
	}

	fmt.Fprintf(w, "Replay Summary: %d session(s)\n", r.TotalSessions)
	fmt.Fprintln(w)

	for _, s := range r.Sessions {
		status := "✓"
		if !s.Deterministic {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Session: %s (room %s)\n", status, s.SessionKey, s.RoomCode)
		fmt.Fprintf(w, "  Seq %d from %d: %d applied, %d anomalies\n", s.Seq, s.StartSeq, s.Applied, len(s.Anomalies))
		fmt.Fprint(w, indent(s.Summary, "  "))
		if verbose {
			for _, a := range s.Anomalies {
				fmt.Fprintf(w, "  ! seq %d %s %s: %s\n", a.Seq, a.Type, a.Kind, a.Detail)
			}
		}
		if !s.Deterministic {
			fmt.Fprintln(w, "  Warning: Non-deterministic replay detected!")
		}
		fmt.Fprintln(w)
	}

	if r.AllDeterministic {
		fmt.Fprintln(w, "✓ All sessions verified deterministic")
		return
	}
	fmt.Fprintln(w, "✗ Determinism verification failed")
}

// openExistingStore opens path, refusing to create a new database.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}
