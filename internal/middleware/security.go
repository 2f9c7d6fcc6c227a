package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// MaxBodyBytes caps every request body.
const MaxBodyBytes = 10 << 20 // 10 MB

// CORS allows the frontend origin to call the API with cookies.
func CORS(origin string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           600,
	})
}

// securityHeaders are the headers every response carries. The API serves
// JSON only, so the content security policy forbids everything.
var securityHeaders = map[string]string{
	"X-Content-Type-Options":       "nosniff",
	"X-Frame-Options":              "DENY",
	"Referrer-Policy":              "no-referrer",
	"Content-Security-Policy":      "default-src 'none'; frame-ancestors 'none'",
	"Cross-Origin-Resource-Policy": "same-site",
	"X-DNS-Prefetch-Control":       "off",
}

// SecurityHeaders sets securityHeaders, plus HSTS when hsts is true.
// HSTS is only sent in production; a browser that sees it on localhost
// refuses plain HTTP to localhost for a year.
func SecurityHeaders(hsts bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range securityHeaders {
				h.Set(k, v)
			}
			if hsts {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
