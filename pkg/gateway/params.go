package gateway

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Pagination defaults applied to every list request.
const (
	DefaultPage  = 1
	DefaultLimit = 10

	// FilterAll is the sentinel filter value meaning "no filter".
	FilterAll = "all"
)

// ListParams are the pagination, search and filter fields of a list request.
type ListParams struct {
	Page    int
	Limit   int
	Search  string
	Filters map[string]string
}

// Normalize applies the defaults and drops filters that are empty or "all".
func (p ListParams) Normalize() ListParams {
	out := ListParams{
		Page:   p.Page,
		Limit:  p.Limit,
		Search: strings.TrimSpace(p.Search),
	}
	if out.Page < 1 {
		out.Page = DefaultPage
	}
	if out.Limit < 1 {
		out.Limit = DefaultLimit
	}
	for k, v := range p.Filters {
		v = strings.TrimSpace(v)
		if k == "" || v == "" || strings.EqualFold(v, FilterAll) {
			continue
		}
		if out.Filters == nil {
			out.Filters = make(map[string]string)
		}
		out.Filters[k] = v
	}
	return out
}

// WithFilter returns a copy of p with one filter set.
func (p ListParams) WithFilter(name, value string) ListParams {
	filters := make(map[string]string, len(p.Filters)+1)
	for k, v := range p.Filters {
		filters[k] = v
	}
	filters[name] = value
	p.Filters = filters
	return p
}

// WithPage returns a copy of p on the given page.
func (p ListParams) WithPage(page int) ListParams {
	p.Page = page
	return p
}

// Values encodes the normalized params as a query string.
func (p ListParams) Values() url.Values {
	n := p.Normalize()
	v := url.Values{}
	v.Set("page", strconv.Itoa(n.Page))
	v.Set("limit", strconv.Itoa(n.Limit))
	if n.Search != "" {
		v.Set("search", n.Search)
	}
	for k, f := range n.Filters {
		v.Set(k, f)
	}
	return v
}

// FilterValues encodes only search and filters, for unpaginated reads.
func (p ListParams) FilterValues() url.Values {
	v := p.Values()
	v.Del("page")
	v.Del("limit")
	return v
}

// CacheParams is the canonical form of the normalized params used in cache
// keys, so equivalent requests share one entry.
func (p ListParams) CacheParams() map[string]any {
	n := p.Normalize()
	out := map[string]any{
		"page":  n.Page,
		"limit": n.Limit,
	}
	if n.Search != "" {
		out["search"] = n.Search
	}
	for k, v := range n.Filters {
		out[k] = v
	}
	return out
}

// FilterParams is CacheParams without pagination, or nil without filters.
func (p ListParams) FilterParams() map[string]any {
	out := p.CacheParams()
	delete(out, "page")
	delete(out, "limit")
	if len(out) == 0 {
		return nil
	}
	return out
}

// String renders the normalized params for logs.
func (p ListParams) String() string {
	v := p.Values()
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + v.Get(k)
	}
	return strings.Join(parts, "&")
}
