package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/solmeal/internal/query"
)

// NewRunCommand creates the run command group for manual run control.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create, warm and activate runs by hand",
		Long: `Manual run control. A run is created as a draft, its membership is
written into the cache by warmup, and activate makes it the live snapshot.`,
	}
	cmd.AddCommand(newRunCreateCommand(rootOpts))
	cmd.AddCommand(newRunWarmupCommand(rootOpts))
	cmd.AddCommand(newRunActivateCommand(rootOpts))
	return cmd
}

type runText query.RunView

func (r runText) String() string {
	if r.Algo != "" {
		return fmt.Sprintf("Run %d (%s) for campus %d is %s", r.RunID, r.Algo, r.CampusID, r.Status)
	}
	return fmt.Sprintf("Run %d for campus %d is %s", r.RunID, r.CampusID, r.Status)
}

func newRunCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		campusID int64
		algo     string
		note     string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty draft run",
		Long: `Create an empty draft run for a campus.

Example:
  solmeal run create --campus 1 --note "backfill"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, appOptions{}, func(ctx context.Context, a *app, f *OutputFormatter) error {
				view, err := a.query.CreateRun(ctx, campusID, algo, note)
				if err != nil {
					return f.Fail("create run failed", err)
				}
				return f.Success(runText(view))
			})
		},
	}
	cmd.Flags().Int64Var(&campusID, "campus", 0, "campus id (required)")
	cmd.Flags().StringVar(&algo, "algo", query.DefaultManualAlgo, "algorithm label")
	cmd.Flags().StringVar(&note, "note", "", "note stored with the run")
	_ = cmd.MarkFlagRequired("campus")
	return cmd
}

type warmupText struct {
	RunID int64 `json:"run_id"`
	Ops   int   `json:"ops"`
}

func (w warmupText) String() string {
	return fmt.Sprintf("Run %d warmed (%d cache writes)", w.RunID, w.Ops)
}

func newRunWarmupCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "warmup <run-id>",
		Short: "Write a run's membership into the snapshot cache",
		Long: `Write a run's membership into the snapshot cache without making it
live.

Example:
  solmeal run warmup 12`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, appOptions{cache: true}, func(ctx context.Context, a *app, f *OutputFormatter) error {
				runID, err := parseID("run id", args[0])
				if err != nil {
					return f.Fail("invalid argument", err)
				}
				f.VerboseLog("warming run %d (batch size %d)", runID, a.cfg.Warmup.BatchSize)
				n, err := a.query.Warmup(ctx, runID)
				if err != nil {
					return f.Fail("warmup failed", err)
				}
				return f.Success(warmupText{RunID: runID, Ops: n})
			})
		},
	}
}

func newRunActivateCommand(rootOpts *RootOptions) *cobra.Command {
	var campusID int64
	cmd := &cobra.Command{
		Use:   "activate <run-id>",
		Short: "Make a warmed run the campus's live snapshot",
		Long: `Mark a run active in the durable store, then flip the campus's cache
pointer to it. Run warmup first.

Example:
  solmeal run activate 12 --campus 1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, appOptions{cache: true}, func(ctx context.Context, a *app, f *OutputFormatter) error {
				runID, err := parseID("run id", args[0])
				if err != nil {
					return f.Fail("invalid argument", err)
				}
				f.VerboseLog("activating run %d for campus %d", runID, campusID)
				view, err := a.query.Activate(ctx, campusID, runID)
				if err != nil {
					return f.Fail("activate failed", err)
				}
				return f.Success(runText(view))
			})
		},
	}
	cmd.Flags().Int64Var(&campusID, "campus", 0, "campus id (required)")
	_ = cmd.MarkFlagRequired("campus")
	return cmd
}
