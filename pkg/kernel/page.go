package kernel

// Page is pagination metadata for a listed result.
type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
	Total  int `json:"total"`
	Pages  int `json:"pages"`
}

// Paginated wraps a page of items with its metadata.
type Paginated[T any] struct {
	Items []T  `json:"items"`
	Page  Page `json:"pagination"`
	Empty bool `json:"empty"`
}

// NewPaginated builds a Paginated result, deriving the page count.
func NewPaginated[T any](items []T, page, size, total int) Paginated[T] {
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return Paginated[T]{
		Items: items,
		Page:  Page{Number: page, Size: size, Total: total, Pages: pages},
		Empty: len(items) == 0,
	}
}

// PaginationOptions carries the requested page window.
type PaginationOptions struct {
	Page     int
	PageSize int
}

// Normalize clamps the options to sane defaults.
func (o PaginationOptions) Normalize() PaginationOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize < 1 {
		o.PageSize = 50
	}
	if o.PageSize > 200 {
		o.PageSize = 200
	}
	return o
}
