package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/koustreak/pha/internal/logger"
)

const requestIDHeader = "X-Request-ID"

type ctxKey struct{}

// RequestIDFrom returns the request id set by the requestID middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// requestID keeps a caller-supplied UUID request id or assigns a new one,
// echoes it in the response and attaches a request-scoped logger.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		ctx = s.log.With().Str("request_id", id).Logger().WithContext(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.log.Request().
			Str("request_id", RequestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("latency", time.Since(start)).
			Str("remote_ip", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)
				logger.FromContext(r.Context()).ErrorWith("panic recovered", fmt.Errorf("%v", rec), map[string]any{
					"stack": string(stack[:n]),
				})
				writeJSON(w, http.StatusInternalServerError, errorBody("internal", "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
