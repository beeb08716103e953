package fragcache

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// Scope disambiguates otherwise-identical cache keys: the active locale plus
// the derived request path. Identity stays a composite value on purpose -
// string concatenation with delimiters is a collision waiting to happen.
// Path is ignored for global fragments.
type Scope struct {
	Locale string
	Path   string
}

// RequestInfo is the narrow view of the current request the cache needs to
// derive a scope. Supplied by the HTTP layer.
type RequestInfo interface {
	// Locale is the active language/locale of the request.
	Locale() string
	// IsCPRequest reports whether the request targets the control panel.
	IsCPRequest() bool
	// Path is the logical request path, without pagination segments.
	Path() string
	// PageNum is the current page number (1 = first page).
	PageNum() int
	// PageTrigger is the path segment prefix announcing a page number ("p").
	PageTrigger() string
	// PathParam is the internal query parameter carrying the routed path;
	// it is stripped from the query string before scoping.
	PathParam() string
	// QueryString is the raw query string, without the leading "?".
	QueryString() string
}

// DeriveScope computes the scope for a request:
// "cp:" or "site:" + logical path, then "/<pageTrigger><pageNum>" when past
// the first page, then "?<query>" when a non-empty query string remains after
// stripping the internal path parameter.
func DeriveScope(req RequestInfo) Scope {
	var b strings.Builder
	if req.IsCPRequest() {
		b.WriteString("cp:")
	} else {
		b.WriteString("site:")
	}
	b.WriteString(req.Path())

	if n := req.PageNum(); n > 1 {
		b.WriteByte('/')
		b.WriteString(req.PageTrigger())
		b.WriteString(strconv.Itoa(n))
	}

	if qs := filterQueryString(req.QueryString(), req.PathParam()); qs != "" {
		b.WriteByte('?')
		b.WriteString(qs)
	}

	return Scope{Locale: req.Locale(), Path: b.String()}
}

// filterQueryString strips the internal path parameter and re-encodes the
// rest deterministically (sorted by key).
func filterQueryString(raw, pathParam string) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return raw // unparseable; scope on it as-is
	}
	if pathParam != "" {
		vals.Del(pathParam)
	}
	return vals.Encode()
}

// ScopeResolver memoizes DeriveScope for one request. Create one per request
// and share it among the fragment lookups of that request.
type ScopeResolver struct {
	req   RequestInfo
	once  sync.Once
	scope Scope
}

func NewScopeResolver(req RequestInfo) *ScopeResolver {
	return &ScopeResolver{req: req}
}

func (r *ScopeResolver) Scope() Scope {
	r.once.Do(func() { r.scope = DeriveScope(r.req) })
	return r.scope
}
