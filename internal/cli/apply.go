package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docrepo/internal/compiler"
	"github.com/roach88/docrepo/internal/repository"
	"github.com/roach88/docrepo/internal/schema"
)

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply [declarations-dir]",
		Short: "Declare entities on the database and upgrade it",
		Long: `Declare every entity on the database, creating or upgrading its tables
the same way a repository does when it is constructed, then print the
resulting tables.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runApply(opts *RootOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	cfg, err := opts.settings()
	if err != nil {
		return settingsError(formatter, err)
	}
	dir, err := declarationsDir(cfg, args)
	if err != nil {
		return outputValidateError(formatter, ErrCodeNotFound, err.Error())
	}
	loaded, err := loadDeclarations(formatter, dir)
	if err != nil {
		return err
	}

	logger := opts.logger(cmd, cfg)
	db := cfg.Open(logger)
	defer db.Close()

	for _, d := range loaded.Declarations {
		entity, err := declaredEntity(loaded, d)
		if err != nil {
			return outputValidateError(formatter, ErrCodeDeclaration, err.Error())
		}
		repo, err := repository.NewRepository[map[string]any, any](ctx, db, entity, d.TableName(),
			repository.WithLogger(logger))
		if err != nil {
			return storeFailure(formatter, fmt.Sprintf("apply %s", d.Name), err)
		}
		formatter.VerboseLog("Declared %s as %s (key %s)", d.Name, d.TableName(), repo.IDPropertyName())
		repo.Close()
	}

	info, err := describe(ctx, db)
	if err != nil {
		return storeFailure(formatter, "describe database", err)
	}
	if formatter.IsJSON() {
		return formatter.Success(info)
	}
	fmt.Fprintf(formatter.Writer, "✓ Applied %d entities\n", len(loaded.Declarations))
	writeDatabaseInfo(formatter, info)
	return nil
}

// declaredEntity returns the registered entity for d, or the error that kept
// it out of the registry.
func declaredEntity(loaded *LoadResult, d *compiler.Declaration) (*schema.Entity, error) {
	if entity, ok := loaded.Entity(d); ok {
		return entity, nil
	}
	if _, err := d.Entity(); err != nil {
		return nil, fmt.Errorf("entity %s: %w", d.Name, err)
	}
	return nil, fmt.Errorf("entity %s is not registered", d.Name)
}
