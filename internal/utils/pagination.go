// Package utils holds small helpers used by the HTTP layer.
package utils

import "strconv"

// AtoiDefault parses s as an int, returning def when s is empty or invalid.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Page describes one window over a list of total items.
type Page struct {
	Number     int  `json:"page"`
	Size       int  `json:"page_size"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`

	// Start and End bound the slice [Start:End) for this page.
	Start int `json:"-"`
	End   int `json:"-"`
}

// Paginate clamps number to >= 1 and size to [1, maxSize], then computes the
// slice bounds. A page past the end yields an empty window.
func Paginate(total, number, size, maxSize int) Page {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = 1
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	pages := (total + size - 1) / size
	start := min((number-1)*size, total)
	end := min(start+size, total)
	return Page{
		Number:     number,
		Size:       size,
		Total:      total,
		TotalPages: pages,
		HasNext:    number < pages,
		Start:      start,
		End:        end,
	}
}
