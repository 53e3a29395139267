package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/craftzone/craftzone-api/internal/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestID assigns every request an id and a logger tagged with it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.New().String()
		}

		w.Header().Set(requestIDHeader, requestID)
		ctx := logger.WithRequestID(r.Context(), requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
