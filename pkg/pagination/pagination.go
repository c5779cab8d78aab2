package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// FromContext reads ?limit= and ?offset=, clamped to [1, MaxLimit] and >= 0.
func FromContext(c echo.Context) Params {
	return Params{
		Limit:  Limit(c, DefaultLimit),
		Offset: max(0, atoi(c.QueryParam("offset"))),
	}
}

// Limit reads ?limit= with a caller-chosen default, capped at MaxLimit.
func Limit(c echo.Context, def int) int {
	limit := atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = def
	}
	return min(limit, MaxLimit)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

func NewResponse(data interface{}, total, limit, offset int) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}
