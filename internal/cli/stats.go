package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/solmeal/internal/cycle"
	"github.com/roach88/solmeal/internal/store"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <run-id>",
		Short: "Show member counts of a run",
		Long: `Show the total member count of a run and the size of each cluster.

Example:
  solmeal stats 12
  solmeal stats 12 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, appOptions{}, func(ctx context.Context, a *app, f *OutputFormatter) error {
				runID, err := parseID("run id", args[0])
				if err != nil {
					return f.Fail("invalid argument", err)
				}
				stats, err := a.query.RunStats(ctx, runID)
				if err != nil {
					return f.Fail("stats failed", err)
				}
				return f.Success(statsText(stats))
			})
		},
	}
	return cmd
}

type statsText store.RunStats

func (s statsText) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %d: %d members in %d clusters", s.RunID, s.TotalMembers, len(s.Clusters))
	for _, c := range s.Clusters {
		fmt.Fprintf(&b, "\n  cluster %-4d %d", c.ClusterSeq, c.Members)
	}
	return b.String()
}

// parseID parses a positive integer id argument.
func parseID(what, arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, cycle.Validationf("%s %q must be a positive integer", what, arg)
	}
	return id, nil
}
