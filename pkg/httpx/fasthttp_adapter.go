package httpx

import (
	"net/http"

	"github.com/valyala/fasthttp"
)

// FastHTTPAdapter adapts an httpx.HandlerFunc into a fasthttp.RequestHandler.
// The body is handed to the handler without copying; it is only valid
// until the handler returns.
func FastHTTPAdapter(h HandlerFunc) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		hdr := make(http.Header)
		ctx.Request.Header.VisitAll(func(k, v []byte) {
			hdr.Add(string(k), string(v))
		})

		req := &Request{
			// RequestCtx is a context.Context that ends with the server
			Ctx:        ctx,
			Method:     string(ctx.Method()),
			Path:       string(ctx.Path()),
			Header:     hdr,
			RemoteAddr: ctx.RemoteAddr().String(),
			bodyRaw:    ctx.PostBody(),
			hasBytes:   true,
			Raw:        ctx,
		}

		h(&fastHTTPResponseWriter{ctx: ctx, header: make(http.Header)}, req)
	}
}

type fastHTTPResponseWriter struct {
	ctx    *fasthttp.RequestCtx
	header http.Header
	status int
}

func (f *fastHTTPResponseWriter) Header() http.Header { return f.header }

func (f *fastHTTPResponseWriter) WriteHeader(status int) {
	if f.status != 0 {
		return
	}
	f.status = status
	// copy headers into fasthttp response header
	for k, vals := range f.header {
		for i, v := range vals {
			if i == 0 {
				f.ctx.Response.Header.Set(k, v)
			} else {
				f.ctx.Response.Header.Add(k, v)
			}
		}
	}
	f.ctx.SetStatusCode(status)
}

func (f *fastHTTPResponseWriter) Write(b []byte) (int, error) {
	if f.status == 0 {
		f.WriteHeader(http.StatusOK)
	}
	return f.ctx.Write(b)
}
