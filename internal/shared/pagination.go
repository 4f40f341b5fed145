package shared

import "math"

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	if perPage <= 0 {
		perPage = 50
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Paginate slices items to the requested page.
func Paginate[T any](items []T, page, perPage int) ([]T, Pagination) {
	meta := NewPagination(page, perPage, len(items))
	start := (meta.Page - 1) * meta.PerPage
	if start >= len(items) {
		return []T{}, meta
	}
	end := start + meta.PerPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], meta
}
