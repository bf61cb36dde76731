package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/solmeal/internal/cycle"
	"github.com/roach88/solmeal/internal/recompute"
)

// NewDirtyCommand creates the dirty command group.
func NewDirtyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dirty",
		Short: "Manage availability recomputation",
	}
	cmd.AddCommand(newDirtyMarkCommand(rootOpts))
	cmd.AddCommand(newDirtyRecomputeCommand(rootOpts))
	return cmd
}

type markedText struct {
	Marked int `json:"marked"`
}

func (m markedText) String() string {
	return fmt.Sprintf("Marked %d users dirty", m.Marked)
}

func newDirtyMarkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mark <user-id>...",
		Short: "Flag users whose timetable changed",
		Long: `Flag every weekday of each user for recomputation. The next cycle,
or "solmeal dirty recompute", rebuilds their availability.

Example:
  solmeal dirty mark 101 102 103`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, appOptions{}, func(ctx context.Context, a *app, f *OutputFormatter) error {
				ids := make([]int64, 0, len(args))
				for _, arg := range args {
					id, err := parseID("user id", arg)
					if err != nil {
						return f.Fail("invalid argument", err)
					}
					ids = append(ids, id)
				}
				if err := a.query.MarkDirty(ctx, ids...); err != nil {
					return f.Fail("mark dirty failed", err)
				}
				return f.Success(markedText{Marked: len(ids)})
			})
		},
	}
}

type summaryText recompute.Summary

func (s summaryText) String() string {
	if s.Missing > 0 {
		return fmt.Sprintf("Recomputed %d users (%d without timetable)", s.Users, s.Missing)
	}
	return fmt.Sprintf("Recomputed %d users", s.Users)
}

func newDirtyRecomputeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Rebuild availability of dirty users now",
		Long: `Fetch timetables for every dirty user from the backend and rewrite
their stored availability, clearing the dirty flag.

Example:
  solmeal dirty recompute --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, appOptions{}, func(ctx context.Context, a *app, f *OutputFormatter) error {
				sum, err := recompute.New(a.store, a.backend, a.logger, a.metrics).Run(ctx)
				if err != nil {
					return f.Fail("recompute failed", cycle.Classify("recompute", 0, 0, err))
				}
				return f.Success(summaryText(sum))
			})
		},
	}
}
