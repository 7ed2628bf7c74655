package idgen

import "github.com/google/uuid"

// Generator hands out identifiers for new orders, order lines, products and files
type Generator interface {
	Next() (uuid.UUID, error)
}

// Random generates version 4 UUIDs
type Random struct{}

// Next returns a fresh random UUID
func (Random) Next() (uuid.UUID, error) {
	return uuid.NewRandom()
}

// Func adapts a plain function to Generator
type Func func() (uuid.UUID, error)

// Next calls f
func (f Func) Next() (uuid.UUID, error) {
	return f()
}

// New returns the default generator
func New() Generator {
	return Random{}
}
