package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/solmeal/internal/cycle"
	"github.com/roach88/solmeal/internal/query"
)

// NewBitsCommand creates the bits command.
func NewBitsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bits <user-id> <day-of-week>",
		Short: "Show a user's stored availability for one weekday",
		Long: `Show the nine packed 32-bit availability blocks stored for a user on
one weekday (0 = Monday .. 6 = Sunday). A set bit is a busy 5-minute slot.

Example:
  solmeal bits 42 0`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, appOptions{}, func(ctx context.Context, a *app, f *OutputFormatter) error {
				userID, err := parseID("user id", args[0])
				if err != nil {
					return f.Fail("invalid argument", err)
				}
				dow, err := strconv.Atoi(args[1])
				if err != nil {
					return f.Fail("invalid argument", cycle.Validationf("day_of_week %q must be an integer", args[1]))
				}
				view, err := a.query.Bits(ctx, userID, dow)
				if err != nil {
					return f.Fail("bits failed", err)
				}
				return f.Success(bitsText(view))
			})
		},
	}
	return cmd
}

type bitsText query.BitsView

func (v bitsText) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "User %d day %d", v.UserID, v.DayOfWeek)
	if v.Dirty {
		b.WriteString(" (dirty)")
	}
	for i, s := range v.Slots {
		fmt.Fprintf(&b, "\n  slot%d %032b", i+1, s)
	}
	return b.String()
}
