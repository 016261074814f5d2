package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/docrepo/internal/compiler"
	"github.com/roach88/docrepo/internal/schema"
)

// LoadMode controls how errors are handled during declaration loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the entities declared in a directory.
type LoadResult struct {
	// Declarations keeps CUE declarations first, then YAML files in path
	// order, each in source order.
	Declarations []*compiler.Declaration
	// Registry holds the built entity of every valid declaration.
	Registry  *schema.Registry
	FileCount int
}

// Entity returns the built entity for a declaration.
func (r *LoadResult) Entity(d *compiler.Declaration) (*schema.Entity, bool) {
	return r.Registry.Lookup(d.Name)
}

// LoadError represents an error that occurred during declaration loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	File    string    // YAML file, with Line
	Line    int
}

func (e *LoadError) Error() string {
	switch {
	case e.Pos.IsValid():
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Code, e.Message)
	case e.File != "":
		return fmt.Sprintf("%s: %s: %s", e.File, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// line returns the source line, 0 when unknown.
func (e *LoadError) line() int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return e.Line
}

// LoadEntities reads every entity declared in dir: the "entity" struct of
// the CUE package in dir, plus the "entity" mapping of every .yaml or .yml
// file below it. Declarations are validated and built into entities.
func LoadEntities(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("declarations directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing declarations directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, yamlFiles, err := FindDeclarationFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 && len(yamlFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE or YAML files found in %s", dir)}}
	}

	result := &LoadResult{
		Declarations: []*compiler.Declaration{},
		Registry:     schema.NewRegistry(),
		FileCount:    len(cueFiles) + len(yamlFiles),
	}
	var errs []error
	// add records err and reports whether loading should stop.
	add := func(err error) bool {
		errs = append(errs, err)
		return mode == LoadModeFailFast
	}

	if len(cueFiles) > 0 {
		decls, cueErrs := loadCUE(dir)
		for _, err := range cueErrs {
			if add(err) {
				return result, errs
			}
		}
		result.Declarations = append(result.Declarations, decls...)
	}

	for _, path := range yamlFiles {
		rel, _ := filepath.Rel(dir, path)
		data, err := os.ReadFile(path)
		if err != nil {
			if add(&LoadError{Code: ErrCodeLoadFailed, Message: err.Error(), File: rel}) {
				return result, errs
			}
			continue
		}
		decls, err := compiler.CompileYAML(data, rel)
		if err != nil {
			if add(convertCompileError(err, rel)) {
				return result, errs
			}
			continue
		}
		result.Declarations = append(result.Declarations, decls...)
	}

	invalid := make(map[*compiler.Declaration]bool)
	for _, d := range result.Declarations {
		for _, ve := range compiler.Validate(d) {
			invalid[d] = true
			if add(&LoadError{Code: ve.Code, Message: ve.Message, File: d.Source, Line: ve.Line}) {
				return result, errs
			}
		}
	}
	for _, ve := range duplicateTables(result.Declarations) {
		if add(ve) {
			return result, errs
		}
	}

	for _, d := range result.Declarations {
		if invalid[d] {
			continue
		}
		entity, err := d.Entity()
		if err == nil {
			err = result.Registry.Register(entity)
		}
		if err != nil {
			if add(&LoadError{Code: ErrCodeDeclaration, Message: err.Error(), File: d.Source, Line: d.Line}) {
				return result, errs
			}
		}
	}

	if len(result.Declarations) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no entities declared"})
	}
	return result, errs
}

// duplicateTables reports declarations whose table is already taken.
func duplicateTables(decls []*compiler.Declaration) []error {
	var errs []error
	for _, ve := range compiler.ValidateAll(decls) {
		if ve.Code != compiler.ErrDuplicateTable {
			continue
		}
		errs = append(errs, &LoadError{Code: ve.Code, Message: ve.Message, Line: ve.Line})
	}
	return errs
}

func loadCUE(dir string) ([]*compiler.Declaration, []error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	entities := value.LookupPath(cue.ParsePath("entity"))
	if !entities.Exists() {
		return nil, nil
	}
	iter, err := entities.Fields()
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating entities: %v", err)}}
	}

	var (
		decls []*compiler.Declaration
		errs  []error
	)
	for iter.Next() {
		decl, err := compiler.CompileEntity(iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "entity."+iter.Label()))
			continue
		}
		decls = append(decls, decl)
	}
	return decls, errs
}

// FindDeclarationFiles walks dir and returns the .cue and the .yaml/.yml
// paths found, each sorted.
func FindDeclarationFiles(dir string) (cueFiles, yamlFiles []string, err error) {
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".cue":
			cueFiles = append(cueFiles, path)
		case ".yaml", ".yml":
			yamlFiles = append(yamlFiles, path)
		}
		return nil
	})
	slices.Sort(cueFiles)
	slices.Sort(yamlFiles)
	return cueFiles, yamlFiles, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, source string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
			File:    source,
			Line:    compileErr.Line,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", source, err),
	}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No declaration files found
	ErrCodeLoadFailed  = "E004" // CUE or YAML load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeStore       = "E007" // Database error
	ErrCodeDeclaration = "E008" // Declaration could not be read or built
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch field {
	case "cue", "yaml":
		return ErrCodeLoadFailed
	default:
		return ErrCodeDeclaration
	}
}
