package httpserver

import "net/http"

// MaxPayloadSize bounds an RPC request body to guard against oversized
// payloads exhausting memory before the JSON decoder ever runs.
const MaxPayloadSize = 1 * 1024 * 1024 // 1MB

func limitRequestSize(w http.ResponseWriter, r *http.Request, maxSize int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
}

// securityHeadersMiddleware strips version-identifying response headers
// before any handler writes, mirroring the teacher's hardening pass.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapper := &headerRemovalWriter{ResponseWriter: w}
		next.ServeHTTP(wrapper, r)
		wrapper.writeSecurityHeaders()
	})
}

type headerRemovalWriter struct {
	http.ResponseWriter
	headerWritten bool
}

func (w *headerRemovalWriter) WriteHeader(statusCode int) {
	w.writeSecurityHeaders()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *headerRemovalWriter) Write(b []byte) (int, error) {
	if !w.headerWritten {
		w.writeSecurityHeaders()
	}
	return w.ResponseWriter.Write(b)
}

func (w *headerRemovalWriter) writeSecurityHeaders() {
	if w.headerWritten {
		return
	}
	w.headerWritten = true
	h := w.ResponseWriter.Header()
	h.Del("X-Powered-By")
	h.Set("Server", "fleetd")
}

// Flush lets the wrapped writer support SSE streaming.
func (w *headerRemovalWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
