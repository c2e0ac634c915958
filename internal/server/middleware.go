package server

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"gitstars/internal/bootstrap/logging"
)

const requestIDHeader = "X-Request-Id"

// requestIDMiddleware tags the request context (and the response) with a
// uuid so log lines for one request correlate.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := req.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, req.WithContext(logging.WithRequestID(req.Context(), requestID)))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, req.ProtoMajor)

		next.ServeHTTP(ww, req)

		logging.Info(req.Context(), "http request",
			slog.String("method", req.Method),
			slog.String("path", req.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
