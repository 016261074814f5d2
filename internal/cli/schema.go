package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/docrepo/internal/schema"
)

// EntitySchema is the derived storage schema of one declared entity.
type EntitySchema struct {
	Entity   string          `json:"entity"`
	Table    string          `json:"table"`
	Source   string          `json:"source,omitempty"`
	Key      string          `json:"key"`
	Versions []VersionSchema `json:"versions"`
}

// VersionSchema is the table descriptor at one version.
type VersionSchema struct {
	Version int    `json:"version"`
	Schema  string `json:"schema"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema [declarations-dir]",
		Short: "Print the versioned table schemas of declared entities",
		Long: `Print the table descriptor every declared entity gets at each version,
from its lowest annotated version up to its highest.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runSchema(opts *RootOptions, args []string, cmd *cobra.Command) error {
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

	schemas, err := DeriveSchemas(loaded)
	if err != nil {
		_ = formatter.Error(ErrCodeDeclaration, err.Error(), nil)
		return WrapExitError(ExitFailure, "derive schemas", err)
	}

	if formatter.IsJSON() {
		return formatter.Success(schemas)
	}
	writeSchemas(formatter, schemas)
	return nil
}

// DeriveSchemas builds every version of every loaded entity, in
// declaration order.
func DeriveSchemas(loaded *LoadResult) ([]EntitySchema, error) {
	schemas := make([]EntitySchema, 0, len(loaded.Declarations))
	for _, d := range loaded.Declarations {
		entity, ok := loaded.Entity(d)
		if !ok {
			return nil, fmt.Errorf("entity %s was not built", d.Name)
		}
		versions, err := schema.BuildAll(entity, 0)
		if err != nil {
			return nil, err
		}
		es := EntitySchema{
			Entity: d.Name,
			Table:  d.TableName(),
			Source: d.Source,
			Key:    versions[len(versions)-1].IDPropertyName,
		}
		for _, ts := range versions {
			es.Versions = append(es.Versions, VersionSchema{Version: ts.Version, Schema: ts.SchemaString})
		}
		schemas = append(schemas, es)
	}
	return schemas, nil
}

func writeSchemas(formatter *OutputFormatter, schemas []EntitySchema) {
	w := formatter.Writer
	for i, es := range schemas {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (table %s, key %s)\n", es.Entity, es.Table, es.Key)
		for _, v := range es.Versions {
			fmt.Fprintf(w, "  v%-3d %s\n", v.Version, v.Schema)
		}
	}
	if len(schemas) > 0 {
		fmt.Fprintln(w, strings.Repeat("-", 40))
	}
	fmt.Fprintf(w, "%d entities\n", len(schemas))
}
