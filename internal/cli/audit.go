package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/duel/internal/audit"
	"github.com/roach88/duel/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Database string
}

// AuditReport is the audit command output.
type AuditReport struct {
	Gaps  []store.Gap `json:"gaps"`
	Clean bool        `json:"clean"`
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check action logs for sequence gaps",
		Long: `Compare every session's action counter with its stored rows.

Exit codes:
  0 - No gaps
  1 - At least one session has a gap
  2 - Command error (database not found, etc.)

Examples:
  duel audit --db ./duel.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openExistingStore(opts.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			a := audit.New(st, audit.WithLogger(diagnosticLogger(opts.RootOptions, cmd)))
			gaps, err := a.Check(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "audit failed", err)
			}

			out := NewOutputFormatter(opts.RootOptions, cmd)
			report := AuditReport{Gaps: gaps, Clean: len(gaps) == 0}
			if report.Clean {
				return out.Success(report)
			}
			if err := out.Failure(CodeGaps, "sequence gaps found", report); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("%d session(s) with sequence gaps", len(gaps)))
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// RenderText implements TextRenderer.
func (r AuditReport) RenderText(w io.Writer, verbose bool) {
	if r.Clean {
		fmt.Fprintln(w, "✓ No sequence gaps")
		return
	}
	for _, g := range r.Gaps {
		fmt.Fprintf(w, "✗ Session %s: action_count=%d rows=%d max_seq=%d\n",
			g.SessionKey, g.ActionCount, g.Rows, g.MaxSeq)
	}
}
