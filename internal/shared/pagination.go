package shared

import (
	"math"
	"strconv"
)

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
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PageQuery carries the requested page before totals are known.
type PageQuery struct {
	Page    int
	PerPage int
}

// ParsePagination reads page/per-page query values, clamping per-page to 100.
func ParsePagination(pageStr, perPageStr string) PageQuery {
	page, _ := strconv.Atoi(pageStr)
	if page <= 0 {
		page = 1
	}
	perPage, _ := strconv.Atoi(perPageStr)
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return PageQuery{Page: page, PerPage: perPage}
}

// Limit returns the SQL limit for the query.
func (q PageQuery) Limit() int { return q.PerPage }

// Offset returns the SQL offset for the query.
func (q PageQuery) Offset() int { return (q.Page - 1) * q.PerPage }
