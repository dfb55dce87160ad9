package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/postbox/internal/app"
	"github.com/roach88/postbox/internal/docstore"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the review API and scheduled jobs",
		Long: `Serve the HTTP review API and run ingest, publish and recover on
their configured cron schedules until interrupted.

Example:
  postbox serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, _ docstore.Session, f *OutputFormatter) error {
				if addr != "" {
					a.Config.Server.Addr = addr
				}
				f.VerboseLog("listening on %s", a.Config.Server.Addr)
				if err := a.Serve(ctx); err != nil {
					return f.Fail("serve", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
