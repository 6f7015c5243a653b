package shared

import (
	"math"
	"net/http"
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 200
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	page, perPage = normalisePage(page, perPage)
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// Offset returns the row offset for the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// PageRequest is the limit/offset pair handed to repositories.
type PageRequest struct {
	Page    int
	PerPage int
}

// Limit returns the normalised page size.
func (p PageRequest) Limit() int {
	_, perPage := normalisePage(p.Page, p.PerPage)
	return perPage
}

// Offset returns the normalised row offset.
func (p PageRequest) Offset() int {
	page, perPage := normalisePage(p.Page, p.PerPage)
	return (page - 1) * perPage
}

// PageRequestFromQuery reads page and per_page query parameters.
func PageRequestFromQuery(r *http.Request) PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	page, perPage = normalisePage(page, perPage)
	return PageRequest{Page: page, PerPage: perPage}
}

func normalisePage(page, perPage int) (int, int) {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if page <= 0 {
		page = 1
	}
	return page, perPage
}
