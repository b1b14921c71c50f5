package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"adsingest/pkg/httpx"
)

const defaultDocsDir = "./docs"

// Router bundles the handlers with the auxiliary endpoints.
type Router struct {
	h       *Handlers
	metrics http.Handler
	docsDir string
}

// NewRouter builds the route table. metrics may be nil.
func NewRouter(svc Service, metrics http.Handler, o Options) *Router {
	dir := o.DocsDir
	if dir == "" {
		dir = defaultDocsDir
	}
	return &Router{h: NewHandlers(svc, o), metrics: metrics, docsDir: dir}
}

// docs serves the swagger UI and the raw openapi document.
func (rt *Router) docs() http.Handler {
	m := http.NewServeMux()
	m.Handle("/docs/", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	m.Handle("/openapi.yaml", http.FileServer(http.Dir(rt.docsDir)))
	return m
}

// NetHTTP returns the router for the net/http engine.
func (rt *Router) NetHTTP() http.Handler {
	r := mux.NewRouter()
	ingest := httpx.NetHTTPAdapter(rt.h.Ingest)
	r.Handle("/ingest", ingest)
	r.Handle("/v1/events", ingest)
	health := httpx.NetHTTPAdapter(rt.h.Healthz)
	r.Handle("/healthz", health).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/health", health).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/readyz", httpx.NetHTTPAdapter(rt.h.Readyz)).Methods(http.MethodGet, http.MethodHead)
	if rt.metrics != nil {
		r.Handle("/metrics", rt.metrics).Methods(http.MethodGet)
	}
	docs := rt.docs()
	r.PathPrefix("/docs/").Handler(docs)
	r.Handle("/openapi.yaml", docs)
	return r
}

// FastHTTP returns the router for the fasthttp engine.
func (rt *Router) FastHTTP() fasthttp.RequestHandler {
	ingest := httpx.FastHTTPAdapter(rt.h.Ingest)
	health := httpx.FastHTTPAdapter(rt.h.Healthz)
	ready := httpx.FastHTTPAdapter(rt.h.Readyz)
	docs := fasthttpadaptor.NewFastHTTPHandler(rt.docs())
	var metrics fasthttp.RequestHandler
	if rt.metrics != nil {
		metrics = fasthttpadaptor.NewFastHTTPHandler(rt.metrics)
	}

	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		switch {
		case path == "/ingest" || path == "/v1/events":
			ingest(ctx)
		case path == "/healthz" || path == "/health":
			if !readOnly(ctx) {
				return
			}
			health(ctx)
		case path == "/readyz":
			if !readOnly(ctx) {
				return
			}
			ready(ctx)
		case path == "/metrics" && metrics != nil:
			metrics(ctx)
		case path == "/openapi.yaml" || strings.HasPrefix(path, "/docs/"):
			docs(ctx)
		default:
			ctx.Error(http.StatusText(http.StatusNotFound), http.StatusNotFound)
		}
	}
}

func readOnly(ctx *fasthttp.RequestCtx) bool {
	if ctx.IsGet() || ctx.IsHead() {
		return true
	}
	ctx.Response.Header.Set("Allow", "GET, HEAD")
	ctx.Error(http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	return false
}
