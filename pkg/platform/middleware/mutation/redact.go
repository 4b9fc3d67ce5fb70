package mutation

import (
	"net/http"
	"net/url"
	"strings"
)

// Headers that never reach an audit record.
var redactedHeaders = map[string]struct{}{
	"Authorization":       {},
	"Proxy-Authorization": {},
	"Cookie":              {},
	"Set-Cookie":          {},
	"X-Admin-Token":       {},
}

// Query parameters that never reach an audit record.
var redactedParams = map[string]struct{}{
	"access_token":  {},
	"id_token":      {},
	"refresh_token": {},
}

// redactHeaders flattens h into single values and drops credentials.
func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		canonical := http.CanonicalHeaderKey(name)
		if _, drop := redactedHeaders[canonical]; drop {
			continue
		}
		out[canonical] = strings.Join(values, ", ")
	}
	return out
}

// redactQuery re-encodes q without token parameters.
func redactQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	kept := make(url.Values, len(q))
	for name, values := range q {
		if _, drop := redactedParams[strings.ToLower(name)]; drop {
			continue
		}
		kept[name] = values
	}
	return kept.Encode()
}
