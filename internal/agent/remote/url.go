package remote

import (
	"strings"

	"github.com/dmitrijs2005/propcheck/internal/netx"
)

// ResolveURL joins the public base URL of the bucket with a stored path.
// Paths that already are absolute URLs are returned unchanged.
func ResolveURL(base, path string) string {
	if netx.IsHTTPURL(path) || base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
