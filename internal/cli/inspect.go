package cli

import (
	"github.com/spf13/cobra"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "inspect",
		Short:         "Show the version, tables and row counts of a database",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, cmd)
		},
	}

	return cmd
}

func runInspect(opts *RootOptions, cmd *cobra.Command) error {
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

	info, err := describe(ctx, db)
	if err != nil {
		return storeFailure(formatter, "describe database", err)
	}
	if formatter.IsJSON() {
		return formatter.Success(info)
	}
	writeDatabaseInfo(formatter, info)
	return nil
}
