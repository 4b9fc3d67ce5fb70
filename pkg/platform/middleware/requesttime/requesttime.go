// Package requesttime pins one "now" per request so an audit record's
// timestamp matches the moment the request arrived, not when it finished.
package requesttime

import (
	"net/http"
	"time"

	"mutation-audit/pkg/requestcontext"
)

// Middleware captures the current UTC time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
