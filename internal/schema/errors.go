package schema

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes declaration and schema errors.
type ErrorCode string

const (
	// ErrCodeDuplicateKey indicates a second Id or IncrementalId on one entity.
	ErrCodeDuplicateKey ErrorCode = "DUPLICATE_KEY"

	// ErrCodeConflictingKey indicates two different primary-key kinds on one entity.
	ErrCodeConflictingKey ErrorCode = "CONFLICTING_KEY"

	// ErrCodeInvalidAnnotation indicates a malformed annotation (empty field, bad kind).
	ErrCodeInvalidAnnotation ErrorCode = "INVALID_ANNOTATION"

	// ErrCodeNoAnnotations indicates an entity without any annotated field.
	ErrCodeNoAnnotations ErrorCode = "NO_ANNOTATIONS"

	// ErrCodeNoPrimaryKey indicates a version without a visible primary key.
	ErrCodeNoPrimaryKey ErrorCode = "NO_PRIMARY_KEY"

	// ErrCodeInvalidVersion indicates a version number below 1.
	ErrCodeInvalidVersion ErrorCode = "INVALID_VERSION"

	// ErrCodeInvalidDescriptor indicates a schema string that does not parse.
	ErrCodeInvalidDescriptor ErrorCode = "INVALID_DESCRIPTOR"
)

// DeclarationError is raised while annotations are being attached to an
// entity. It always names the entity.
type DeclarationError struct {
	Code    ErrorCode
	Entity  string
	Field   string
	Message string
}

func (e *DeclarationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (entity=%s, field=%s)", e.Code, e.Message, e.Entity, e.Field)
	}
	return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.Entity)
}

// SchemaError is raised while deriving versions or schema strings.
// Version is 0 when the error is not tied to one version.
type SchemaError struct {
	Code    ErrorCode
	Entity  string
	Version int
	Message string
}

func (e *SchemaError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("%s: %s (entity=%s, version=%d)", e.Code, e.Message, e.Entity, e.Version)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.Entity)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsDeclarationError reports whether err wraps a DeclarationError.
func IsDeclarationError(err error) bool {
	var de *DeclarationError
	return errors.As(err, &de)
}

// IsSchemaError reports whether err wraps a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

func newNoPrimaryKeyError(entity string, version int) *SchemaError {
	return &SchemaError{
		Code:    ErrCodeNoPrimaryKey,
		Entity:  entity,
		Version: version,
		Message: fmt.Sprintf("at least one field of %s in version %d must be annotated with Id, IncrementalId or CompoundId", entity, version),
	}
}
