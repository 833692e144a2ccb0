// Package sanitizeurl implements the URL sanitization boundary function
// from spec.md §6: scheme/host whitelist plus a query-parameter
// allowlist. It is a pure function with no side effects, applied before
// every metadata/filesize/download request reaches the rest of the
// service.
//
// Grounded on the teacher's internal/validate.go URL/MediaURL pair —
// scheme check, then a host-whitelist loop — narrowed to spec.md's
// fixed platform and extended with the query-parameter filter the
// teacher's validator doesn't have.
package sanitizeurl

import (
	"net/url"
	"strings"

	apperr "ytfetch/internal/errors"
)

// allowedHosts is the fixed platform whitelist spec.md §6 names.
var allowedHosts = []string{
	"youtube.com", "www.youtube.com", "m.youtube.com", "youtu.be",
}

// allowedQueryParams is the fixed allowlist spec.md §6 names; every
// other query parameter is dropped during sanitization.
var allowedQueryParams = []string{"v", "list", "t"}

// Sanitize validates rawURL's scheme and host against the whitelist,
// strips any query parameter not on the allowlist, and returns the
// resulting URL string. Rejects anything that doesn't parse, has a
// non-http(s) scheme, or whose host isn't recognized.
func Sanitize(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", apperr.NewWithMessage("sanitizeurl.Sanitize", apperr.ErrInvalidURL, "url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", apperr.NewWithMessage("sanitizeurl.Sanitize", apperr.ErrInvalidURL, "malformed url")
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", apperr.NewWithMessage("sanitizeurl.Sanitize", apperr.ErrInvalidURL, "scheme must be http or https")
	}

	if !hostAllowed(parsed.Host) {
		return "", apperr.NewWithMessage("sanitizeurl.Sanitize", apperr.ErrUnsupportedPlatform, "host not on the whitelist: "+parsed.Host)
	}

	parsed.RawQuery = filterQuery(parsed.Query())
	return parsed.String(), nil
}

func hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range allowedHosts {
		if host == allowed {
			return true
		}
	}
	return false
}

func filterQuery(values url.Values) string {
	filtered := url.Values{}
	for _, key := range allowedQueryParams {
		if v := values.Get(key); v != "" {
			filtered.Set(key, v)
		}
	}
	return filtered.Encode()
}
