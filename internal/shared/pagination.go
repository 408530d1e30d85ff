package shared

const defaultPerPage = 20

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination normalises page and perPage (1 and 20 when unset) and derives
// the page count from total.
func NewPagination(page, perPage, total int) Pagination {
	p := Pagination{Page: max(page, 1), PerPage: perPage, Total: max(total, 0)}
	if p.PerPage <= 0 {
		p.PerPage = defaultPerPage
	}
	p.TotalPages = (p.Total + p.PerPage - 1) / p.PerPage
	return p
}

// Offset is the number of rows before the page.
func (p Pagination) Offset() int {
	return (max(p.Page, 1) - 1) * p.PerPage
}
