package http

import (
	"net/http"

	"github.com/pitabwire/lexicon/culture"
)

// CultureHTTPMiddleware extracts the requested cultures and sets them in the request context.
func CultureHTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cultures := culture.ExtractFromHTTPRequest(r)
		if len(cultures) > 0 {
			r = r.WithContext(culture.ToContext(r.Context(), cultures))
		}

		next.ServeHTTP(w, r)
	})
}
