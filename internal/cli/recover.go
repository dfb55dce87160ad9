package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/postbox/internal/app"
	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/lifecycle"
)

type recoverOutput struct {
	lifecycle.RecoveryReport
}

func (o recoverOutput) WriteText(w io.Writer) error {
	if len(o.Results) == 0 {
		_, err := fmt.Fprintln(w, "no open intents")
		return err
	}
	for _, r := range o.Results {
		line := fmt.Sprintf("%-12s %s %s -> %s", r.Action, r.MessageID, r.From, r.To)
		if r.Error != "" {
			line += ": " + r.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Finish transitions interrupted between writes",
		Long: `Resolve every open intent in the intent log.

A message still in its source collection is left there, one already in
its target is cleared, and one missing from both is restored to the
target.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, sess docstore.Session, f *OutputFormatter) error {
				report, err := a.RecoverJob.Run(ctx, sess)
				if err != nil {
					return f.Fail("recover", err)
				}
				if err := f.Success(recoverOutput{report}); err != nil {
					return err
				}
				if n := report.Count(lifecycle.RecoveryFailed); n > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d intent(s) still open", n))
				}
				return nil
			})
		},
	}
}
