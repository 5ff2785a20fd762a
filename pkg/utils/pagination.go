package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// Listing page sizes. Conversation lists are short-lived snapshots held in
// memory, so the cap is deliberately small.
const (
	defaultPageSize = 20
	maxPageSize     = 50
)

type PaginationParams struct {
	Page     int
	PageSize int
	Offset   int
}

// GetPaginationParams reads page/limit query params, clamping to sane values.
func GetPaginationParams(c echo.Context) PaginationParams {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("limit"))

	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	return PaginationParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   (page - 1) * pageSize,
	}
}

// Bounds clamps the page window to a slice of length n.
func (p PaginationParams) Bounds(n int) (start, end int) {
	start = p.Offset
	if start > n {
		start = n
	}
	end = start + p.PageSize
	if end > n {
		end = n
	}
	return start, end
}
