package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docrepo/internal/store"
)

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Delete the database file",
		Long: `Delete the configured database together with its WAL and shared-memory
files. Requires --force.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrop(rootOpts, force, cmd)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm deletion")

	return cmd
}

func runDrop(opts *RootOptions, force bool, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.settings()
	if err != nil {
		return settingsError(formatter, err)
	}
	if !force {
		msg := fmt.Sprintf("refusing to delete %s without --force", cfg.DB)
		_ = formatter.Error(ErrCodeGeneric, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	if err := store.Delete(cfg.DB); err != nil {
		return storeFailure(formatter, "drop database", err)
	}
	opts.logger(cmd, cfg).Debug("database deleted", "db", cfg.DB)

	if formatter.IsJSON() {
		return formatter.Success(map[string]string{"deleted": cfg.DB})
	}
	fmt.Fprintf(formatter.Writer, "✓ Deleted %s\n", cfg.DB)
	return nil
}
