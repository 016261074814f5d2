package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/docrepo/internal/store"
)

// watchBuffer bounds the changes queued between the feed and the printer.
const watchBuffer = 1024

// WatchEvent is one committed change as printed by watch.
type WatchEvent struct {
	Rev      int64           `json:"rev"`
	Table    string          `json:"table"`
	Type     string          `json:"type"`
	Key      json.RawMessage `json:"key"`
	Doc      json.RawMessage `json:"doc,omitempty"`
	Previous json.RawMessage `json:"previous,omitempty"`
	Source   string          `json:"source,omitempty"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "watch [table...]",
		Short: "Follow committed changes until interrupted",
		Long: `Print every change committed to the database after the command starts,
by any process, until Ctrl-C. Without arguments all tables are followed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, args, count, cmd)
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "exit after this many changes (0 to run until interrupted)")

	return cmd
}

func runWatch(opts *RootOptions, tables []string, count int, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.settings()
	if err != nil {
		return settingsError(formatter, err)
	}
	logger := opts.logger(cmd, cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	db, err := openExisting(ctx, cfg, logger)
	if err != nil {
		return storeFailure(formatter, "open database", err)
	}
	defer db.Close()

	follow := make(map[string]bool, len(tables))
	for _, t := range tables {
		follow[t] = true
	}

	changes := make(chan store.Change, watchBuffer)
	unsubscribe := db.Subscribe(func(batch []store.Change) {
		for _, c := range batch {
			if len(follow) > 0 && !follow[c.Table] {
				continue
			}
			select {
			case changes <- c:
			default:
				logger.Warn("watch fell behind, change dropped", "rev", c.Rev, "table", c.Table)
			}
		}
	})
	defer unsubscribe()

	logger.Debug("watching", "db", cfg.DB, "tables", tables)
	if !formatter.IsJSON() {
		fmt.Fprintln(formatter.GetErrWriter(), "Watching for changes. Press Ctrl-C to stop.")
	}

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-changes:
			if err := printChange(formatter, c); err != nil {
				return err
			}
			seen++
			if count > 0 && seen >= count {
				return nil
			}
		}
	}
}

func printChange(formatter *OutputFormatter, c store.Change) error {
	if formatter.IsJSON() {
		return formatter.Success(WatchEvent{
			Rev:      c.Rev,
			Table:    c.Table,
			Type:     c.Type.String(),
			Key:      json.RawMessage(c.Key),
			Doc:      rawOrNil(c.Obj),
			Previous: rawOrNil(c.OldObj),
			Source:   c.Source,
		})
	}

	doc := c.Obj
	if c.Type == store.ChangeDelete {
		doc = c.OldObj
	}
	fmt.Fprintf(formatter.Writer, "%d %s %s %s %s\n", c.Rev, c.Type, c.Table, c.Key, doc)
	return nil
}

func rawOrNil(b []byte) json.RawMessage {
	if b == nil {
		return nil
	}
	return json.RawMessage(b)
}
