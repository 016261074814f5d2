package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docrepo/internal/store"
)

// DumpRow is one stored document with its encoded primary key.
type DumpRow struct {
	Key json.RawMessage `json:"key"`
	Doc json.RawMessage `json:"doc"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "dump <table>",
		Short: "Print every document of a table",
		Long: `Print the documents of a table in insertion order, one JSON document
per line. With --format json the rows are wrapped with their keys.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(rootOpts, args[0], limit, cmd)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "print at most this many documents (0 for all)")

	return cmd
}

func runDump(opts *RootOptions, table string, limit int, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	cfg, err := opts.settings()
	if err != nil {
		return settingsError(formatter, err)
	}
	db, err := openExisting(ctx, cfg, opts.logger(cmd, cfg))
	if err != nil {
		return storeFailure(formatter, "open database", err)
	}
	defer db.Close()

	var rows []store.Row
	err = db.Transaction(ctx, store.ModeRead, table, func(tx *store.Tx) error {
		var err error
		rows, err = tx.ToArray()
		return err
	})
	if err != nil {
		return storeFailure(formatter, fmt.Sprintf("dump %s", table), err)
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	formatter.VerboseLog("Read %d document(s) from %s", len(rows), table)

	if formatter.IsJSON() {
		out := make([]DumpRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, DumpRow{Key: json.RawMessage(r.Key), Doc: json.RawMessage(r.Doc)})
		}
		return formatter.Success(out)
	}
	for _, r := range rows {
		fmt.Fprintln(formatter.Writer, string(r.Doc))
	}
	return nil
}
