package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/solmeal/internal/query"
)

// LookupOptions holds flags for the lookup command.
type LookupOptions struct {
	*RootOptions
	CampusID int64
	UserID   int64
	TopK     int
}

// NewLookupCommand creates the lookup command.
func NewLookupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LookupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Show a user's current meal group",
		Long: `Show the other members of a user's cluster in the campus's live
snapshot, closest first. Reads only the snapshot cache.

Example:
  solmeal lookup --campus 1 --user 42
  solmeal lookup --campus 1 --user 42 --top-k 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts.RootOptions, cmd, appOptions{cache: true}, func(ctx context.Context, a *app, f *OutputFormatter) error {
				view, err := a.query.MyCluster(ctx, opts.CampusID, opts.UserID, opts.TopK)
				if err != nil {
					return f.Fail("lookup failed", err)
				}
				return f.Success(clusterText(view))
			})
		},
	}

	cmd.Flags().Int64Var(&opts.CampusID, "campus", 0, "campus id (required)")
	cmd.Flags().Int64Var(&opts.UserID, "user", 0, "user id (required)")
	cmd.Flags().IntVar(&opts.TopK, "top-k", 0, fmt.Sprintf("peers to return, 1..%d (default %d)", query.MaxTopK, query.DefaultTopK))
	_ = cmd.MarkFlagRequired("campus")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

type clusterText query.ClusterView

func (c clusterText) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Campus %d run %d cluster %d", c.CampusID, c.RunID, c.ClusterSeq)
	if len(c.Members) == 0 {
		b.WriteString("\n  (no other members)")
	}
	for _, p := range c.Members {
		dist := "-"
		if p.Distance != nil {
			dist = fmt.Sprintf("%.4f", *p.Distance)
		}
		fmt.Fprintf(&b, "\n  user %-10d distance %s", p.UserID, dist)
	}
	return b.String()
}
