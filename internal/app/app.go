package app

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"adsingest/pkg/api"
	"adsingest/pkg/banner"
	"adsingest/pkg/config"
	"adsingest/pkg/ingest"
	"adsingest/pkg/logger"
	"adsingest/pkg/metrics"
	"adsingest/pkg/sink"
)

// httpShutdownGrace bounds how long in-flight requests get once draining
// has finished.
const httpShutdownGrace = 5 * time.Second

// App encapsulates the server components and lifecycle.
type App struct {
	eff     config.EffectiveConfigResult
	version string

	metrics    *metrics.Metrics
	sink       sink.Sink
	retention  *sink.Retention
	controller *ingest.Controller

	// exactly one of these is set by startHTTP
	srv  *http.Server
	fsrv *fasthttp.Server

	// NoBanner suppresses the startup banner.
	NoBanner bool
}

// New builds every component from the effective config. Nothing is
// started; call Run.
func New(eff config.EffectiveConfigResult, version string) (*App, error) {
	if eff.Config == nil {
		return nil, errors.New("app: nil config")
	}
	s, err := sink.New(eff.Config.Sink)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s sink", eff.Config.Sink.Type)
	}
	return NewWithSink(eff, version, s)
}

// NewWithSink is New with a caller-supplied sink.
func NewWithSink(eff config.EffectiveConfigResult, version string, s sink.Sink) (*App, error) {
	cfg := eff.Config
	m := metrics.New(cfg.Metrics.Namespace)

	a := &App{eff: eff, version: version, metrics: m, sink: s}

	if p, ok := s.(*sink.Pebble); ok {
		m.RegisterSinkStats(func() metrics.SinkStats { return metrics.SinkStats(p.Stats()) })
		if cfg.Sink.Pebble.Retention.Enabled {
			r, err := sink.NewRetention(p, cfg.Sink.Topic, cfg.Sink.Pebble.Retention, clock.RealClock{})
			if err != nil {
				_ = s.Close()
				return nil, err
			}
			a.retention = r
		}
	}

	a.controller = ingest.NewController(s, ingest.Options{
		QueueCapacity:   cfg.Ingest.QueueCapacity,
		MaxPayloadBytes: cfg.Ingest.MaxPayloadBytes.Int(),
		Policy: ingest.BatchPolicy{
			MaxSize: cfg.Batch.MaxSize,
			MaxWait: cfg.Batch.MaxWait.Duration(),
			Anchor:  ingest.WindowAnchor(cfg.Batch.WindowAnchor),
		},
		Topic:           cfg.Sink.Topic,
		WriteTimeout:    cfg.Sink.WriteTimeout.Duration(),
		MaxMessageBytes: cfg.Sink.MaxMessageBytes.Int(),
		Recorder:        m,
	})
	return a, nil
}

// Controller exposes the ingest core.
func (a *App) Controller() *ingest.Controller { return a.controller }

// Router builds the HTTP route table.
func (a *App) Router() *api.Router {
	cfg := a.eff.Config
	return api.NewRouter(a.controller, a.metrics.Handler(), api.Options{
		MaxPayloadBytes: cfg.Ingest.MaxPayloadBytes.Int64(),
		RateRPS:         cfg.Server.RateLimit.RPS,
		RateBurst:       cfg.Server.RateLimit.Burst,
		Counter:         a.metrics,
	})
}

// Run starts the ingest core, retention and the HTTP server, and blocks
// until ctx is cancelled or the server fails. It then drains the core,
// stops HTTP and closes the sink, in that order.
func (a *App) Run(ctx context.Context) error {
	if !a.NoBanner {
		banner.Print(a.eff, a.version)
	}
	if err := a.controller.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.retention != nil {
		g.Go(func() error {
			a.retention.Run(gctx)
			return nil
		})
	}
	serveErr := a.startHTTP()
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-serveErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "http server")
			}
			return nil
		}
	})

	<-gctx.Done()
	runErr := a.shutdown()
	if err := g.Wait(); err != nil {
		return err
	}
	return runErr
}

func (a *App) shutdown() error {
	drain := a.eff.Config.Shutdown.DrainTimeout.Duration()
	report, err := a.controller.Shutdown(context.Background(), drain)
	if err != nil {
		logger.Log.Error("drain_failed", zap.Int("discarded", report.Discarded), zap.Error(err))
	}

	if herr := a.stopHTTP(); herr != nil {
		logger.Log.Error("http_shutdown_failed", zap.Error(herr))
	}
	if cerr := a.sink.Close(); cerr != nil {
		logger.Log.Error("sink_close_failed", zap.Error(cerr))
	}
	logger.Log.Info("server_stopped", zap.Duration("drain_took", report.Took))
	return err
}

func (a *App) stopHTTP() error {
	switch {
	case a.srv != nil:
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		return a.srv.Shutdown(ctx)
	case a.fsrv != nil:
		return a.fsrv.Shutdown()
	}
	return nil
}
