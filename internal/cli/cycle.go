package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/solmeal/internal/cycle"
)

// CycleOptions holds flags for the cycle command.
type CycleOptions struct {
	*RootOptions
	CampusID int64
	Note     string
}

// NewCycleCommand creates the cycle command.
func NewCycleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CycleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one clustering cycle now",
		Long: `Run a full cycle for one campus: recompute dirty availability, gather
candidates, cluster them, persist the run and publish it.

Example:
  solmeal cycle --campus 1
  solmeal cycle --campus 1 --note "manual rerun" --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, appOptions{cache: true}, func(ctx context.Context, a *app, f *OutputFormatter) error {
				f.VerboseLog("starting cycle for campus %d", opts.CampusID)
				rep, err := a.query.AutoCycle(ctx, opts.CampusID, opts.Note)
				if err != nil {
					return f.Fail("cycle failed", err)
				}
				return f.Success(reportText(rep))
			})
		},
	}

	cmd.Flags().Int64Var(&opts.CampusID, "campus", 0, "campus id (required)")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note stored with the run")
	_ = cmd.MarkFlagRequired("campus")

	return cmd
}

// reportText renders a cycle report. Its JSON form is the report's own.
type reportText cycle.Report

func (r reportText) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle %s activated run %d for campus %d\n", r.CycleID, r.RunID, r.CampusID)
	fmt.Fprintf(&b, "  anchor:      %s\n", r.Anchor.Format(time.RFC3339))
	fmt.Fprintf(&b, "  candidates:  listed=%d windowed=%d located=%d\n", r.Listed, r.Windowed, r.Located)
	fmt.Fprintf(&b, "  clusters:    %d (k=%d)\n", r.Clusters, r.K)
	if r.Recomputed > 0 {
		fmt.Fprintf(&b, "  recomputed:  %d users\n", r.Recomputed)
	}
	if r.ReassignSkipped {
		b.WriteString("  reassignment skipped\n")
	}
	fmt.Fprintf(&b, "  fingerprint: %s", r.Fingerprint)
	return b.String()
}
