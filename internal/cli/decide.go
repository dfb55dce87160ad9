package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/postbox/internal/app"
	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/message"
)

// decisionOutput is a message after a reviewer decision.
type decisionOutput struct {
	Action  message.Action  `json:"action"`
	Message message.Message `json:"message"`
}

func (o decisionOutput) WriteText(w io.Writer) error {
	line := fmt.Sprintf("%s: %s is now %s", o.Action, o.Message.ID, o.Message.Status)
	if len(o.Message.Tags) > 0 {
		line += fmt.Sprintf(" [%s]", strings.Join(o.Message.Tags, ", "))
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

// NewApproveCommand creates the approve command.
func NewApproveCommand(rootOpts *RootOptions) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending message",
		Long: `Move a pending message to approved, optionally setting its tags.

Example:
  postbox approve msg_1792400000_tg-42-9 --tags travel,harbour`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decide(rootOpts, cmd, message.TransitionRequest{ID: args[0], Action: message.ActionApprove, Tags: tags})
		},
	}
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "comma-separated tags to set")
	return cmd
}

// NewRejectCommand creates the reject command.
func NewRejectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decide(rootOpts, cmd, message.TransitionRequest{ID: args[0], Action: message.ActionReject})
		},
	}
}

func decide(rootOpts *RootOptions, cmd *cobra.Command, req message.TransitionRequest) error {
	return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, sess docstore.Session, f *OutputFormatter) error {
		m, err := a.Engine.Apply(ctx, sess, req)
		if err != nil {
			return f.Fail(string(req.Action), err)
		}
		return f.Success(decisionOutput{Action: req.Action, Message: m})
	})
}
