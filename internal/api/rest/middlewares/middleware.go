package middlewares

import "net/http"

// Middleware wraps an http.Handler.
type Middleware interface {
	Handle(next http.Handler) http.Handler
}
