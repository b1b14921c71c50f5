package app

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"adsingest/pkg/logger"
)

// startHTTP starts the configured engine in a goroutine and returns a
// channel that will contain any server error.
func (a *App) startHTTP() <-chan error {
	cfg := a.eff.Config
	addr := cfg.Addr()
	rt := a.Router()

	errCh := make(chan error, 1)
	switch cfg.Server.Engine {
	case "fasthttp":
		a.fsrv = &fasthttp.Server{
			Handler:      rt.FastHTTP(),
			Name:         "adsingest",
			ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
			WriteTimeout: cfg.Server.WriteTimeout.Duration(),
			// the handler enforces the payload limit itself; this only
			// stops absurd bodies before they are buffered
			MaxRequestBodySize: cfg.Ingest.MaxPayloadBytes.Int() * 2,
		}
		go func() { errCh <- a.fsrv.ListenAndServe(addr) }()
	default:
		a.srv = &http.Server{
			Addr:         addr,
			Handler:      rt.NetHTTP(),
			ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
			WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		}
		go func() { errCh <- a.srv.ListenAndServe() }()
	}
	logger.Log.Info("http_listening", zap.String("addr", addr), zap.String("engine", cfg.Server.Engine))
	return errCh
}
