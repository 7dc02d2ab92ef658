// Package taskid mints and checks discovery task identifiers.
//
// Task ids are canonical UUIDv7 strings, so they sort by creation time and
// malformed ids can be rejected before any store is consulted.
package taskid

import (
	"fmt"

	"github.com/google/uuid"
)

const canonicalLen = 36

// Generator creates task ids.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh task id.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether id has the shape NewID produces: a lowercase,
// hyphenated version 7 UUID.
func (Generator) Valid(id string) bool {
	if len(id) != canonicalLen {
		return false
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	return parsed.Version() == 7 && parsed.String() == id
}
