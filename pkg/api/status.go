package api

import (
	"net/http"

	"github.com/pkg/errors"

	"adsingest/pkg/httpx"
	"adsingest/pkg/ingest"
)

// StatusFor maps an accept-path error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ingest.ErrPayloadInvalid), errors.Is(err, httpx.ErrBodyTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrQueueFull), errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ingest.ErrServiceDraining):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
