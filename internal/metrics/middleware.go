package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// Middleware records request counts and latencies per chi route. Responses
// served as text/event-stream are tracked as streams while open.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, req: r, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		if rw.streaming {
			StreamClosed(rw.route)
		}
		ObserveHTTPRequest(r.Method, routeOf(r), rw.status, time.Since(start), rw.streaming)
	})
}

func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unknown"
}

type statusRecorder struct {
	http.ResponseWriter
	req         *http.Request
	status      int
	wroteHeader bool
	streaming   bool
	route       string
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
		rw.status = code
		if strings.HasPrefix(rw.Header().Get("Content-Type"), "text/event-stream") {
			rw.streaming = true
			rw.route = routeOf(rw.req)
			StreamOpened(rw.route)
		}
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush lets server-sent events through the middleware.
func (rw *statusRecorder) Flush() {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}
