package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/duel/internal/store"
)

// SessionsOptions holds flags for the sessions command.
type SessionsOptions struct {
	*RootOptions
	Database string
}

// SessionList is the sessions command output.
type SessionList struct {
	Sessions []store.Session `json:"sessions"`
	Total    int             `json:"total"`
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List persisted sessions",
		Long: `List every session in the database, newest first.

Examples:
  duel sessions --db ./duel.db
  duel sessions --db ./duel.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openExistingStore(opts.Database)
			if err != nil {
				return err
			}
			defer st.Close()

			sessions, err := st.ListSessions(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list sessions", err)
			}
			return NewOutputFormatter(opts.RootOptions, cmd).Success(SessionList{
				Sessions: sessions,
				Total:    len(sessions),
			})
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// RenderText implements TextRenderer.
func (l SessionList) RenderText(w io.Writer, verbose bool) {
	if l.Total == 0 {
		fmt.Fprintln(w, "No sessions found in database.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROOM\tSTATE\tACTIONS\tCREATED\tSESSION")
	for _, s := range l.Sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			s.RoomCode, s.State, s.ActionCount, s.CreatedAt.UTC().Format(time.RFC3339), s.Key)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d session(s)\n", l.Total)
}

func indent(text, prefix string) string {
	var b strings.Builder
	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		b.WriteString(prefix)
		b.WriteString(line)
	}
	return b.String()
}
