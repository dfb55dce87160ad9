package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/postbox/internal/app"
	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/pipeline"
)

type publishOutput struct {
	pipeline.PublishReport
}

func (o publishOutput) WriteText(w io.Writer) error {
	for _, r := range o.Results {
		if r.Error != "" {
			fmt.Fprintf(w, "failed    %s: %s\n", r.ID, r.Error)
			continue
		}
		fmt.Fprintf(w, "published %s -> %s\n", r.ID, r.Path)
	}
	for _, s := range o.Sweeps {
		if !s.NoOp() {
			fmt.Fprintf(w, "archived  %d from %s into %s\n", len(s.Archived), s.Collection, s.Batch)
		}
	}
	_, err := fmt.Fprintf(w, "published %d, failed %d\n", o.Published, o.Failed)
	return err
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish [id]",
		Short: "Publish approved messages to the site",
		Long: `Render approved messages as posts and move them to published.

With no id, publishes every approved message and then sweeps published
and rejected. With an id, publishes just that message; publishing an
already published message does nothing.

Example:
  postbox publish
  postbox publish msg_1792400000_tg-42-9`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, sess docstore.Session, f *OutputFormatter) error {
				if len(args) == 1 {
					res, err := a.PublishJob.PublishOne(ctx, sess, args[0])
					if err != nil {
						return f.Fail("publish", err)
					}
					report := pipeline.PublishReport{Results: []pipeline.PublishResult{res}, Published: 1}
					return f.Success(publishOutput{report})
				}

				report, err := a.PublishJob.Run(ctx, sess)
				if err != nil {
					return f.Fail("publish", err)
				}
				if err := f.Success(publishOutput{report}); err != nil {
					return err
				}
				if report.Failed > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d message(s) failed to publish", report.Failed))
				}
				return nil
			})
		},
	}
	return cmd
}
