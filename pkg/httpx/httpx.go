// Package httpx lets handlers be written once and served by either
// net/http or fasthttp.
package httpx

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrBodyTooLarge is returned by ReadBody when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("request body too large")

// Request is the unified request representation used by handlers.
// Handlers should prefer using Request.Ctx for cancellations/values.
type Request struct {
	Ctx        context.Context
	Method     string
	Path       string
	Header     http.Header
	RemoteAddr string

	// exactly one of these is set by the adapter
	body     io.ReadCloser
	bodyRaw  []byte
	hasBytes bool

	// Raw holds the underlying transport-specific request object
	// (e.g. *http.Request or *fasthttp.RequestCtx) for escape hatches.
	Raw interface{}
}

// ReadBody returns the request body, failing with ErrBodyTooLarge once it
// passes limit bytes. limit <= 0 means unlimited. The returned slice may
// alias transport buffers and is only valid for the duration of the
// handler.
func (r *Request) ReadBody(limit int64) ([]byte, error) {
	if r.hasBytes {
		if limit > 0 && int64(len(r.bodyRaw)) > limit {
			return nil, ErrBodyTooLarge
		}
		return r.bodyRaw, nil
	}
	if r.body == nil {
		return nil, nil
	}
	src := io.Reader(r.body)
	if limit > 0 {
		src = io.LimitReader(r.body, limit+1)
	}
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if limit > 0 && int64(len(b)) > limit {
		return nil, ErrBodyTooLarge
	}
	return b, nil
}

// ClientIP returns the first X-Forwarded-For hop when present, otherwise
// the host part of RemoteAddr.
func (r *Request) ClientIP() string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (r *Request) close() {
	if r.body != nil {
		_ = r.body.Close()
	}
}

// ResponseWriter is a small subset of http.ResponseWriter semantics
// that we require from adapters.
type ResponseWriter interface {
	Header() http.Header
	Write([]byte) (int, error)
	WriteHeader(status int)
}

// HandlerFunc is the application handler signature used across adapters.
type HandlerFunc func(w ResponseWriter, r *Request)
