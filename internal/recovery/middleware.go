package recovery

import (
	"net/http"
	"runtime/debug"
	"time"
)

// HandlerFuncMiddleware wraps an http.HandlerFunc with panic recovery.
// If a panic occurs, it logs the panic and returns 500 Internal Server Error.
func HandlerFuncMiddleware(next http.HandlerFunc, handler Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				info := PanicInfo{
					Timestamp:  time.Now(),
					Value:      err,
					StackTrace: string(debug.Stack()),
					Context: map[string]string{
						"type":   "http_request",
						"method": r.Method,
						"path":   r.URL.Path,
						"remote": r.RemoteAddr,
					},
				}
				if handler != nil {
					handler(info)
				} else {
					DefaultHandler(info)
				}

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}
