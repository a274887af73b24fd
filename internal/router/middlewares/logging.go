package middlewares

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// WithLogging logs requests that weren't answered with a 2xx status code.
func WithLogging(h http.Handler) http.Handler {
	handler := func(rw http.ResponseWriter, req *http.Request) {
		loggedRW := &responseWriterLogger{
			ResponseWriter: rw,
			statusCode:     http.StatusOK,
		}
		h.ServeHTTP(loggedRW, req)

		if loggedRW.statusCode < 200 || loggedRW.statusCode > 299 {
			log.Ctx(req.Context()).Warn().
				Int("statusCode", loggedRW.statusCode).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Msg("non-2xx status code response")
		}
	}
	return http.HandlerFunc(handler)
}

type responseWriterLogger struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseWriterLogger) WriteHeader(statusCode int) {
	r.ResponseWriter.WriteHeader(statusCode)
	r.statusCode = statusCode
}
