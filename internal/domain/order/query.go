package order

import (
	"cmp"
	"slices"
	"strings"

	"github.com/go-faster/errors"
)

// SortField selects the primary sort key for Query.
type SortField string

const (
	SortCreatedAt      SortField = "created_at"
	SortTotal          SortField = "total"
	SortCustomerName   SortField = "customer_name"
	SortRestaurantName SortField = "restaurant_name"
	SortStatus         SortField = "status"
)

// SortOrder is the direction of the primary sort key.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// DefaultPageSize is used when QueryParams.PageSize is not positive.
const DefaultPageSize = 10

// ErrInvalidQuery is returned when query parameters can not be parsed.
var ErrInvalidQuery = errors.New("invalid query")

// ParseSortField converts a wire value into a SortField. Empty means
// SortCreatedAt.
func ParseSortField(v string) (SortField, error) {
	switch f := SortField(v); f {
	case "":
		return SortCreatedAt, nil
	case SortCreatedAt, SortTotal, SortCustomerName, SortRestaurantName, SortStatus:
		return f, nil
	default:
		return "", errors.Wrapf(ErrInvalidQuery, "unknown sort field %q", v)
	}
}

// ParseSortOrder converts a wire value into a SortOrder. Empty means SortDesc.
func ParseSortOrder(v string) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(v)); o {
	case "":
		return SortDesc, nil
	case SortAsc, SortDesc:
		return o, nil
	default:
		return "", errors.Wrapf(ErrInvalidQuery, "unknown sort order %q", v)
	}
}

// QueryParams controls filtering, sorting, and pagination.
type QueryParams struct {
	// Search matches customer name, restaurant name, or order id,
	// case-insensitively.
	Search string
	// Status restricts results to one status when set.
	Status    Status
	SortField SortField
	SortOrder SortOrder
	// Page is 1-based.
	Page     int
	PageSize int
}

// Page is one page of query results.
type Page struct {
	Items      []Order
	TotalCount int
	Page       int
	PageSize   int
}

// Query filters, sorts, and paginates orders. Ties on the sort key are broken
// by order id so pages never overlap or skip rows. The input slice is not
// modified.
func Query(orders []Order, p QueryParams) Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.SortField == "" {
		p.SortField = SortCreatedAt
	}
	if p.SortOrder == "" {
		p.SortOrder = SortDesc
	}

	needle := strings.ToLower(strings.TrimSpace(p.Search))
	matched := make([]Order, 0, len(orders))
	for _, o := range orders {
		if p.Status != "" && o.Status != p.Status {
			continue
		}
		if needle != "" && !matches(o, needle) {
			continue
		}
		matched = append(matched, o)
	}

	slices.SortStableFunc(matched, func(a, b Order) int {
		c := compareBy(p.SortField, a, b)
		if p.SortOrder == SortDesc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	page := Page{TotalCount: len(matched), Page: p.Page, PageSize: p.PageSize}
	// Compared by division so huge page numbers cannot overflow the offset.
	if len(matched) == 0 || p.Page-1 > (len(matched)-1)/p.PageSize {
		page.Items = []Order{}
		return page
	}
	start := (p.Page - 1) * p.PageSize
	page.Items = matched[start : start+min(p.PageSize, len(matched)-start)]
	return page
}

func matches(o Order, needle string) bool {
	return strings.Contains(strings.ToLower(o.CustomerName), needle) ||
		strings.Contains(strings.ToLower(o.RestaurantName), needle) ||
		strings.Contains(strings.ToLower(o.ID), needle)
}

func compareBy(f SortField, a, b Order) int {
	switch f {
	case SortTotal:
		return a.Bill.TotalPayable.Cmp(b.Bill.TotalPayable)
	case SortCustomerName:
		return strings.Compare(strings.ToLower(a.CustomerName), strings.ToLower(b.CustomerName))
	case SortRestaurantName:
		return strings.Compare(strings.ToLower(a.RestaurantName), strings.ToLower(b.RestaurantName))
	case SortStatus:
		return cmp.Compare(a.Status.rank(), b.Status.rank())
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
}
