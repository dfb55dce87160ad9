package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/postbox/internal/app"
	"github.com/roach88/postbox/internal/archive"
	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/message"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	MaxActive  int
	MaxAgeDays int
}

type sweepOutput struct {
	Sweeps []archive.Report `json:"sweeps"`
}

func (o sweepOutput) WriteText(w io.Writer) error {
	for _, s := range o.Sweeps {
		if s.NoOp() {
			fmt.Fprintf(w, "%s: nothing to archive (%s, %d active)\n", s.Collection, s.Rule, s.Remaining)
			continue
		}
		fmt.Fprintf(w, "%s: archived %d into %s (%s, %d active)\n",
			s.Collection, len(s.Archived), s.Batch, s.Rule, s.Remaining)
	}
	return nil
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep [collection]",
		Short: "Archive old published and rejected messages",
		Long: `Move messages out of published or rejected into dated archive batches.

published keeps the newest --max-active messages; rejected keeps the
last --max-age-days days. Without flags the configured limits apply.

Example:
  postbox sweep
  postbox sweep rejected --max-age-days 7`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, sess docstore.Session, f *OutputFormatter) error {
				limits := a.Config.Limits()
				if cmd.Flags().Changed("max-active") {
					limits.MaxActive = opts.MaxActive
				}
				if cmd.Flags().Changed("max-age-days") {
					limits.MaxAgeDays = opts.MaxAgeDays
				}

				if len(args) == 0 {
					reports, err := a.Policy.SweepAll(ctx, sess, limits)
					if err != nil {
						return f.Fail("sweep", err)
					}
					return f.Success(sweepOutput{Sweeps: reports})
				}

				name, err := message.ParseCollection(args[0])
				if err != nil {
					return f.Fail("sweep", err)
				}
				report, err := a.Policy.Sweep(ctx, sess, name, limits.MaxActive, limits.MaxAgeDays)
				if err != nil {
					return f.Fail("sweep", err)
				}
				return f.Success(sweepOutput{Sweeps: []archive.Report{report}})
			})
		},
	}

	cmd.Flags().IntVar(&opts.MaxActive, "max-active", archive.DefaultMaxActive, "published messages to keep active")
	cmd.Flags().IntVar(&opts.MaxAgeDays, "max-age-days", archive.DefaultMaxAgeDays, "days a rejected message stays active")

	return cmd
}
