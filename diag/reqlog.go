package diag

import (
	"net/http"
	"time"

	logger "github.com/configcat/configcat-experiment-hook/log"
)

type responseRecorder struct {
	http.ResponseWriter

	statusCode int
	written    uint64
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	r.written += uint64(len(data))
	return r.ResponseWriter.Write(data)
}

// logRequests writes a debug line for every diag request handled by next.
func logRequests(log logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if log.Level() > logger.Debug {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debugf("%s %s [status: %d] [duration: %dms] [response: %dB]",
			r.Method, r.URL.Path, rec.statusCode, time.Since(start).Milliseconds(), rec.written)
	})
}
