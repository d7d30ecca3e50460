// Package idgen provides injectable unique ID generation.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique opaque identifiers.
type Generator interface {
	Next() string
}

// UUID generates random version-4 UUIDs. This is the production generator.
type UUID struct{}

// NewUUID returns a UUID generator.
func NewUUID() *UUID {
	return &UUID{}
}

// Next returns a fresh UUID string.
func (g *UUID) Next() string {
	return uuid.NewString()
}

// Sequence generates deterministic IDs of the form "<prefix>-1", "<prefix>-2", ...
// Intended for tests that need reproducible identifiers.
type Sequence struct {
	prefix string
	n      atomic.Uint64
}

// NewSequence returns a sequential generator with the given prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// Next returns the next ID in the sequence.
func (g *Sequence) Next() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}
