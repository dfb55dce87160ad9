package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/postbox/internal/app"
	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/message"
	"github.com/roach88/postbox/internal/project"
)

// listOutput is a collection read.
type listOutput struct {
	docstore.Collection
	now time.Time
}

func (o listOutput) WriteText(w io.Writer) error {
	if len(o.Messages) == 0 {
		_, err := fmt.Fprintf(w, "%s is empty\n", o.Name)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGE\tIMAGES\tTAGS\tTITLE")
	for _, m := range o.Messages {
		var size int64
		for _, img := range m.Images {
			size += img.ByteSize
		}
		images := "-"
		if len(m.Images) > 0 {
			images = fmt.Sprintf("%d (%s)", len(m.Images), humanize.Bytes(uint64(size)))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			m.ID,
			humanize.RelTime(m.OriginalTime(), o.now, "ago", "from now"),
			images,
			len(m.Tags),
			project.Title(m),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d message(s), sha %s\n", len(o.Messages), o.Version)
	return err
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "List messages in a collection",
		Long: `List messages in one of the active collections:
pending, approved, published or rejected.

Example:
  postbox list pending
  postbox list published --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, _ docstore.Session, f *OutputFormatter) error {
				name, err := message.ParseCollection(args[0])
				if err != nil {
					return f.Fail("list", err)
				}
				col, err := a.Store.Read(ctx, name)
				if err != nil {
					return f.Fail("list", err)
				}
				if f.Format == "json" {
					return f.Success(col)
				}
				return f.Success(listOutput{Collection: col, now: time.Now()})
			})
		},
	}
	return cmd
}
