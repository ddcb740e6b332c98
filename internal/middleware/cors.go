package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

// corsMethods are the methods a browser may use cross-origin.
var corsMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost,
	http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// CORS answers cross-origin requests from the allowed origins, with
// credentials. Any request header is allowed. A "*" entry allows every
// origin; the request origin is echoed back so credentials still work.
// Preflight requests are answered here and never reach next.
func CORS(origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   corsMethods,
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           600,
	}
	if slices.Contains(origins, "*") {
		// A literal "*" would be sent back as is, which browsers refuse
		// together with credentials.
		opts.AllowedOrigins = nil
		opts.AllowOriginFunc = func(*http.Request, string) bool { return true }
	}
	return cors.Handler(opts)
}
