package proxy

import (
	"net/url"
	"strings"
)

// buildTargetURL resolves the request path below the upstream base path.
func buildTargetURL(base *url.URL, path, rawQuery string) string {
	u := *base
	switch {
	case strings.HasSuffix(u.Path, "/") && strings.HasPrefix(path, "/"):
		u.Path += path[1:]
	case !strings.HasSuffix(u.Path, "/") && !strings.HasPrefix(path, "/") && path != "":
		u.Path += "/" + path
	default:
		u.Path += path
	}
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String()
}
