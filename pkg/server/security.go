package server

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/raterudder/fleetproxy/pkg/log"
)

const requestIDHeader = "X-Request-Id"

func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME-sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware tags the request logger with a request id, reusing a
// valid one sent by the client.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if parsed, err := uuid.Parse(id); err != nil || parsed.String() != id {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := log.WithAttrs(r.Context(),
			slog.String("reqID", id),
			slog.String("reqPath", r.URL.Path),
		)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
