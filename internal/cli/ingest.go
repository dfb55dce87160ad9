package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/postbox/internal/app"
	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/lifecycle"
	"github.com/roach88/postbox/internal/message"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	File string
}

// ingestOutput is the ingest result.
type ingestOutput struct {
	lifecycle.BatchReport
	Cursor    int64 `json:"cursor,omitempty"`
	Committed bool  `json:"committed,omitempty"`
}

func (o ingestOutput) WriteText(w io.Writer) error {
	for _, r := range o.Results {
		switch r.Outcome {
		case lifecycle.OutcomeRejected, lifecycle.OutcomeFailed:
			fmt.Fprintf(w, "%-9s %s: %s\n", r.Outcome, r.SourceID, r.Error)
		default:
			fmt.Fprintf(w, "%-9s %s -> %s\n", r.Outcome, r.SourceID, r.MessageID)
		}
	}
	_, err := fmt.Fprintf(w, "created %d, duplicates %d, rejected %d, failed %d\n",
		o.Created, o.Duplicates, o.Rejected, o.Failed)
	return err
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Add incoming messages to pending",
		Long: `Add incoming messages to the pending collection.

Without --file, polls the configured Telegram bot once and advances its
cursor. With --file, reads a JSON array of items (sourceId, content,
images, occurredAt, author); "-" reads stdin.

Ingestion is idempotent on sourceId: running it twice creates nothing new.

Example:
  postbox ingest
  postbox ingest --file items.json --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, a *app.App, sess docstore.Session, f *OutputFormatter) error {
				return runIngest(ctx, opts, cmd, a, sess, f)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", `JSON file of incoming items ("-" for stdin)`)

	return cmd
}

func runIngest(ctx context.Context, opts *IngestOptions, cmd *cobra.Command, a *app.App, sess docstore.Session, f *OutputFormatter) error {
	var out ingestOutput
	if opts.File != "" {
		items, err := readItems(opts.File, cmd.InOrStdin())
		if err != nil {
			return usageError(f, err.Error())
		}
		f.VerboseLog("read %d item(s) from %s", len(items), opts.File)
		report, err := a.Engine.Ingest(ctx, sess, items)
		if err != nil {
			return f.Fail("ingest", err)
		}
		out.BatchReport = report
	} else {
		if a.IngestJob == nil {
			return usageError(f, "no Telegram token configured; use --file or set POSTBOX_TELEGRAM_TOKEN")
		}
		res, err := a.IngestJob.Run(ctx, sess)
		if err != nil {
			return f.Fail("ingest", err)
		}
		out = ingestOutput{BatchReport: res.Report, Cursor: res.Cursor, Committed: res.Committed}
	}

	if err := f.Success(out); err != nil {
		return err
	}
	if out.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d item(s) failed", out.Failed))
	}
	return nil
}

func readItems(path string, stdin io.Reader) ([]message.IncomingItem, error) {
	var r io.Reader = stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open items: %w", err)
		}
		defer file.Close()
		r = file
	}
	var items []message.IncomingItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}
