package middleware

import (
	"net/http"
)

// NoStore returns middleware that forbids caching of responses. Endpoints
// that return tokens, codes, or session state must never be cached by
// browsers or intermediaries.
func NoStore() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Pragma", "no-cache")
			next.ServeHTTP(w, r)
		})
	}
}
