package models

import (
	"math"

	"github.com/google/uuid"
)

// Page is a 1-based page request
type Page struct {
	Page  int
	Limit int
}

// Offset returns the number of rows to skip. It saturates at math.MaxInt
// instead of wrapping for very large pages.
func (p Page) Offset() int {
	if p.Page < 1 || p.Limit < 1 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.Limit {
		return math.MaxInt
	}
	return (p.Page - 1) * p.Limit
}

// OrderFilter narrows order listings. A nil UserID means all users.
type OrderFilter struct {
	UserID *uuid.UUID
}

// ProductFilter narrows product listings. Nil fields are not applied.
type ProductFilter struct {
	UserID     *uuid.UUID
	CategoryID *uuid.UUID
}
