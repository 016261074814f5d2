package repository

import "github.com/google/uuid"

// TokenGenerator produces the token that tags a repository's writes.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDv7 tokens, so tokens of
// instances opened concurrently never collide and sort by creation time.
//
// Safe for concurrent use.
type UUIDv7Generator struct{}

// Generate panics if the system random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
