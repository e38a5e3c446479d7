package types

// PaginationRequest represents pagination parameters in requests
type PaginationRequest struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}

// Normalize applies defaults and clamps the page size.
func (p *PaginationRequest) Normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 20
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
}

// Offset returns the SQL offset for the current page.
func (p *PaginationRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Paginate builds the response metadata for a total row count.
func (p *PaginationRequest) Paginate(total int64) *PaginationResponse {
	totalPages := int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	return &PaginationResponse{
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      total,
		TotalPages: totalPages,
	}
}
