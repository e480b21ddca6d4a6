package portal

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (rw *statusWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *statusWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	return rw.ResponseWriter.Write(b)
}

// instrument logs and counts every request by route name.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}

		route := "redirect"
		if cur := mux.CurrentRoute(r); cur != nil && cur.GetName() != "" {
			route = cur.GetName()
		}
		if s.recorder != nil {
			s.recorder.RecordPortalRequest(route, rw.status)
		}
		s.logger.Debug("request",
			"method", r.Method,
			"route", route,
			"remote", r.RemoteAddr,
			"status", rw.status,
			"duration", time.Since(start))
	})
}
