package models

type PaginationParams struct {
	Page  int
	Limit int
}

// Normalize clamps page/limit to sane values and returns the SQL offset.
func (p PaginationParams) Normalize() (limit, offset int) {
	limit = p.Limit
	if limit <= 0 {
		limit = 10
	}
	page := p.Page
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

type PaginatedList[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}
