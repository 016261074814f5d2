package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Entities []string          `json:"entities,omitempty"`
	Files    int               `json:"files"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one problem found in a declarations directory.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [declarations-dir]",
		Short: "Check entity declarations without touching a database",
		Long: `Check the CUE and YAML entity declarations in a directory.

Every problem is reported, not just the first: unknown annotation kinds,
missing primary keys, conflicting keys, invalid field names and tables
declared twice. Without an argument the configured declarations
directory is used.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.settings()
	if err != nil {
		return settingsError(formatter, err)
	}
	dir, err := declarationsDir(cfg, args)
	if err != nil {
		return outputValidateError(formatter, ErrCodeNotFound, err.Error())
	}

	result, loadErrors := LoadEntities(dir, LoadModeCollectAll)
	if result == nil {
		var loadErr *LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message)
		}
		return outputValidateError(formatter, ErrCodeGeneric, loadErrors[0].Error())
	}

	formatter.VerboseLog("Found %d declaration file(s) in %s", result.FileCount, dir)
	for _, d := range result.Declarations {
		formatter.VerboseLog("Checked entity %s (table %s)", d.Name, d.TableName())
	}

	if len(loadErrors) > 0 {
		issues := make([]ValidationIssue, 0, len(loadErrors))
		for _, err := range loadErrors {
			issues = append(issues, toIssue(err))
		}
		return outputValidationErrors(formatter, issues)
	}

	return outputValidateSuccess(formatter, ValidationResult{
		Valid:    true,
		Entities: result.Registry.Names(),
		Files:    result.FileCount,
	})
}

func toIssue(err error) ValidationIssue {
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		return ValidationIssue{Code: ErrCodeGeneric, Message: err.Error()}
	}
	file := loadErr.File
	if loadErr.Pos.IsValid() {
		file = loadErr.Pos.Filename()
	}
	return ValidationIssue{
		Code:    loadErr.Code,
		Message: loadErr.Message,
		File:    file,
		Line:    loadErr.line(),
	}
}

func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ All declarations valid (%d entities in %d files)\n", len(result.Entities), result.Files)
	return nil
}

// outputValidateError reports a directory that could not be read at all.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if formatter.IsJSON() {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		switch {
		case issue.File != "" && issue.Line > 0:
			fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.File, issue.Line)
		case issue.File != "":
			fmt.Fprintln(formatter.Writer, issue.File)
		case issue.Line > 0:
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return failure
}

// loadDeclarations loads dir fail-fast and reports the first problem
// through formatter.
func loadDeclarations(formatter *OutputFormatter, dir string) (*LoadResult, error) {
	result, loadErrors := LoadEntities(dir, LoadModeFailFast)
	if len(loadErrors) == 0 {
		return result, nil
	}
	issue := toIssue(loadErrors[0])
	_ = formatter.Error(issue.Code, loadErrors[0].Error(), nil)
	return nil, WrapExitError(ExitCommandError, "load declarations", loadErrors[0])
}
