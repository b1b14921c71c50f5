package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"adsingest/pkg/httpx"
	"adsingest/pkg/ingest"
	"adsingest/pkg/logger"
)

// Service is what the handlers need from the ingest core.
type Service interface {
	Accept(ctx context.Context, raw []byte) (string, error)
	State() ingest.State
}

// RequestCounter counts requests rejected before they reach the Service,
// which counts everything it sees itself.
type RequestCounter interface {
	RequestReceived()
	RequestFailed(reason string)
}

// ReasonRateLimited labels requests refused by the per-client limiter.
const ReasonRateLimited = "rate_limited"

// Options configures the handlers.
type Options struct {
	MaxPayloadBytes int64
	RateRPS         float64
	RateBurst       int
	// DocsDir holds openapi.yaml. Defaults to ./docs.
	DocsDir string
	// Counter defaults to ingest.NopRecorder.
	Counter RequestCounter
}

// Handlers serves the ingest, health and readiness endpoints.
type Handlers struct {
	svc     Service
	maxBody int64
	limiter *limiterPool
	counter RequestCounter
}

// NewHandlers builds the handler set around svc.
func NewHandlers(svc Service, o Options) *Handlers {
	if o.Counter == nil {
		o.Counter = ingest.NopRecorder{}
	}
	return &Handlers{
		svc:     svc,
		maxBody: o.MaxPayloadBytes,
		limiter: newLimiterPool(o.RateRPS, o.RateBurst),
		counter: o.Counter,
	}
}

// Ingest accepts one JSON payload.
func (h *Handlers) Ingest(w httpx.ResponseWriter, r *httpx.Request) {
	logger.LogRequest(r.Method, r.Path, r.RemoteAddr, r.Header)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "", "method not allowed")
		return
	}
	if !h.limiter.Allow(r.ClientIP()) {
		h.rejectEarly(w, r, errRateLimited)
		return
	}

	body, err := r.ReadBody(h.maxBody)
	if err != nil {
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			err = errors.Wrapf(ingest.ErrPayloadInvalid, "payload exceeds %d bytes", h.maxBody)
		} else {
			err = errors.Wrap(ingest.ErrPayloadInvalid, err.Error())
		}
		h.rejectEarly(w, r, err)
		return
	}

	id, err := h.svc.Accept(r.Ctx, body)
	if err != nil {
		h.reject(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ingestResponse{Status: "ok", RequestID: id})
}

// rejectEarly counts a request the Service never saw, then rejects it.
func (h *Handlers) rejectEarly(w httpx.ResponseWriter, r *httpx.Request, err error) {
	h.counter.RequestReceived()
	if errors.Is(err, errRateLimited) {
		h.counter.RequestFailed(ReasonRateLimited)
	} else {
		h.counter.RequestFailed(ingest.RejectReason(err))
	}
	h.reject(w, r, err)
}

func (h *Handlers) reject(w httpx.ResponseWriter, r *httpx.Request, err error) {
	status := StatusFor(err)
	// the item was never enqueued, so the id only ties this response to logs
	rid := r.Header.Get("X-Request-ID")
	if rid == "" {
		rid = uuid.NewString()
	}
	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Log.Error("ingest_request_failed", zap.String("request_id", rid), zap.Error(err))
	} else {
		logger.Log.Debug("ingest_request_rejected", zap.String("request_id", rid), zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, rid, err.Error())
}

// Healthz reports liveness: healthy once started, until fully stopped.
func (h *Handlers) Healthz(w httpx.ResponseWriter, _ *httpx.Request) {
	switch h.svc.State() {
	case ingest.StateRunning, ingest.StateDraining:
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": h.svc.State().String()})
	}
}

// Readyz reports whether this instance should receive traffic.
func (h *Handlers) Readyz(w httpx.ResponseWriter, _ *httpx.Request) {
	st := h.svc.State()
	if st != ingest.StateRunning {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "state": st.String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
