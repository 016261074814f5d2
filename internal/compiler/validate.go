package compiler

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/docrepo/internal/schema"
)

// Validation error codes (E100-E199)
const (
	ErrEntityNameEmpty     = "E100" // entity has no name
	ErrNoFields            = "E101" // entity declares no annotated field
	ErrUnknownKind         = "E102" // annotation name not recognized
	ErrInvalidSince        = "E103" // since below 1
	ErrInvalidFieldName    = "E104" // field name clashes with descriptor syntax
	ErrDuplicateTable      = "E105" // two entities share a table
	ErrNoPrimaryKey        = "E106" // no Id, IncrementalId or CompoundId
	ErrDuplicateKey        = "E107" // second Id or IncrementalId
	ErrConflictingKey      = "E108" // mixed primary-key kinds
	ErrDuplicateAnnotation = "E109" // same kind twice on one field
)

// ValidationError represents a declaration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// descriptorChars may not appear in field names, since schema strings are
// built by joining field names with them.
const descriptorChars = ",+[]&"

// Validate checks one declaration and returns every problem found rather
// than stopping at the first.
func Validate(d *Declaration) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: "entity name is required",
			Code:    ErrEntityNameEmpty,
			Line:    d.Line,
		})
	}
	if len(d.Fields) == 0 {
		errs = append(errs, ValidationError{
			Field:   d.Name + ".fields",
			Message: "at least one annotated field is required",
			Code:    ErrNoFields,
			Line:    d.Line,
		})
		return errs
	}

	var (
		pkKind   schema.Kind
		pkField  string
		seen     = make(map[string]bool)
		hasValid bool
	)
	for i, f := range d.Fields {
		path := fmt.Sprintf("%s.fields[%d]", d.Name, i)

		if f.Field == "" || strings.TrimSpace(f.Field) != f.Field || strings.ContainsAny(f.Field, descriptorChars+" \t") {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("invalid field name %q", f.Field),
				Code:    ErrInvalidFieldName,
				Line:    f.Line,
			})
		} else if !norm.NFC.IsNormalString(f.Field) {
			// Properties are matched by exact code points.
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("field name %q is not in Unicode NFC form (use %q)", f.Field, norm.NFC.String(f.Field)),
				Code:    ErrInvalidFieldName,
				Line:    f.Line,
			})
		}
		if f.Since < 0 {
			errs = append(errs, ValidationError{
				Field:   path + ".since",
				Message: fmt.Sprintf("since must be >= 1, got %d", f.Since),
				Code:    ErrInvalidSince,
				Line:    f.Line,
			})
		}

		kind, ok := schema.ParseKind(f.Kind)
		if !ok {
			errs = append(errs, ValidationError{
				Field:   path + ".kind",
				Message: fmt.Sprintf("unknown annotation %q", f.Kind),
				Code:    ErrUnknownKind,
				Line:    f.Line,
			})
			continue
		}
		hasValid = true

		dupKey := f.Field + "\x00" + kind.String()
		if seen[dupKey] {
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("%s is annotated with %s more than once", f.Field, kind),
				Code:    ErrDuplicateAnnotation,
				Line:    f.Line,
			})
		}
		seen[dupKey] = true

		if !kind.IsPrimaryKey() {
			continue
		}
		switch {
		case pkKind == 0:
			pkKind, pkField = kind, f.Field
		case pkKind == kind && kind == schema.KindCompoundID:
		case pkKind == kind:
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("only one property in %s may be annotated with %s (already on %s)", d.Name, kind, pkField),
				Code:    ErrDuplicateKey,
				Line:    f.Line,
			})
		default:
			errs = append(errs, ValidationError{
				Field:   path,
				Message: fmt.Sprintf("only one kind of primary key annotation may be used in %s (%s on %s, %s on %s)", d.Name, pkKind, pkField, kind, f.Field),
				Code:    ErrConflictingKey,
				Line:    f.Line,
			})
		}
	}

	if hasValid && pkKind == 0 {
		errs = append(errs, ValidationError{
			Field:   d.Name + ".fields",
			Message: fmt.Sprintf("at least one field of %s must be annotated with Id, IncrementalId or CompoundId", d.Name),
			Code:    ErrNoPrimaryKey,
			Line:    d.Line,
		})
	}
	return errs
}

// ValidateAll validates each declaration and also rejects two declarations
// that resolve to the same table.
func ValidateAll(decls []*Declaration) []ValidationError {
	var errs []ValidationError
	tables := make(map[string]string)
	for _, d := range decls {
		errs = append(errs, Validate(d)...)

		table := d.TableName()
		if other, dup := tables[table]; dup {
			errs = append(errs, ValidationError{
				Field:   d.Name + ".table",
				Message: fmt.Sprintf("table %q is already declared by %s", table, other),
				Code:    ErrDuplicateTable,
				Line:    d.Line,
			})
			continue
		}
		tables[table] = d.Name
	}
	return errs
}
