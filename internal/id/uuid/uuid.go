// Package uuid generates job and request identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID strings. Job IDs use version 4 so they are not
// guessable from submission time; request IDs may use version 7 for ordering.
type Generator struct {
	timeOrdered bool
}

// New returns a version 4 generator.
func New() *Generator {
	return &Generator{}
}

// NewTimeOrdered returns a version 7 generator.
func NewTimeOrdered() *Generator {
	return &Generator{timeOrdered: true}
}

// NewID returns a fresh UUID string.
func (g *Generator) NewID() (string, error) {
	var (
		id  uuid.UUID
		err error
	)
	if g.timeOrdered {
		id, err = uuid.NewV7()
	} else {
		id, err = uuid.NewRandom()
	}
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return id.String(), nil
}

// Valid reports whether s is a canonical UUID string. Handlers use it to
// reject malformed job IDs before touching the store.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	return uuid.Validate(s) == nil
}
