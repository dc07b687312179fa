// Package urlutil provides URL helpers for portal links and playlist URIs.
package urlutil

import (
	"net/url"
	"strings"
)

// ResolveURL resolves a potentially relative URL against a base URL using
// string manipulation, so the original encoding of both parts is preserved.
// url.ResolveReference re-encodes characters that some CDNs sign verbatim.
func ResolveURL(urlStr string, baseURL string) string {
	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") {
		return urlStr
	}
	if strings.HasPrefix(urlStr, "//") {
		if scheme, _, ok := strings.Cut(baseURL, "://"); ok {
			return scheme + ":" + urlStr
		}
		return "https:" + urlStr
	}

	base := baseURL
	if idx := strings.IndexAny(base, "?#"); idx > 0 {
		base = base[:idx]
	}
	if lastSlash := strings.LastIndex(base, "/"); lastSlash > len(SchemeHost(base)) {
		base = base[:lastSlash+1]
	} else {
		base = SchemeHost(base) + "/"
	}

	if strings.HasPrefix(urlStr, "/") {
		return SchemeHost(baseURL) + urlStr
	}

	remaining := strings.TrimPrefix(urlStr, "./")
	result := base
	for strings.HasPrefix(remaining, "../") {
		remaining = remaining[3:]
		trimmed := strings.TrimSuffix(result, "/")
		if lastSlash := strings.LastIndex(trimmed, "/"); lastSlash >= len(SchemeHost(base)) {
			result = trimmed[:lastSlash+1]
		}
	}
	return result + remaining
}

// SchemeHost extracts scheme://host from a URL.
func SchemeHost(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// Host returns the host (with port) of a URL, or "" if it cannot be parsed.
func Host(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// QueryParams parses the query portion of a URL or redirect Location. Only
// the text after the first '?' is considered and any fragment is dropped, so
// Locations with unusual paths still yield their parameters.
func QueryParams(location string) url.Values {
	_, query, ok := strings.Cut(location, "?")
	if !ok {
		return url.Values{}
	}
	if idx := strings.Index(query, "#"); idx >= 0 {
		query = query[:idx]
	}
	// ParseQuery keeps the pairs it could decode even when it reports an error.
	values, _ := url.ParseQuery(query)
	return values
}

// WithQuery appends params to base, keeping any query base already has.
func WithQuery(base string, params url.Values) string {
	if len(params) == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}
