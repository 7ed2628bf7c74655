package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageOffset(t *testing.T) {
	cases := []struct {
		name string
		page Page
		want int
	}{
		{"first page", Page{Page: 1, Limit: 20}, 0},
		{"third page", Page{Page: 3, Limit: 20}, 40},
		{"page below one", Page{Page: 0, Limit: 20}, 0},
		{"no limit", Page{Page: 5, Limit: 0}, 0},
		{"largest exact", Page{Page: math.MaxInt/2 + 1, Limit: 2}, math.MaxInt - 1},
		{"saturates", Page{Page: math.MaxInt/2 + 2, Limit: 2}, math.MaxInt},
		{"max page", Page{Page: math.MaxInt, Limit: 100}, math.MaxInt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.page.Offset())
		})
	}
}
