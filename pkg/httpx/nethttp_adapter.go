package httpx

import (
	"net/http"
)

// NetHTTPAdapter adapts an httpx.HandlerFunc into a standard net/http handler.
func NetHTTPAdapter(h HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &Request{
			Ctx:        r.Context(),
			Method:     r.Method,
			Path:       r.URL.Path,
			Header:     r.Header,
			RemoteAddr: r.RemoteAddr,
			body:       r.Body,
			Raw:        r,
		}
		defer req.close()

		h(&netHTTPResponseWriter{w: w}, req)
	})
}

// netHTTPResponseWriter writes straight through; the underlying writer
// already buffers headers until WriteHeader.
type netHTTPResponseWriter struct {
	w      http.ResponseWriter
	status int
}

func (r *netHTTPResponseWriter) Header() http.Header { return r.w.Header() }

func (r *netHTTPResponseWriter) WriteHeader(status int) {
	if r.status != 0 {
		return
	}
	r.status = status
	r.w.WriteHeader(status)
}

func (r *netHTTPResponseWriter) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.WriteHeader(http.StatusOK)
	}
	return r.w.Write(b)
}
