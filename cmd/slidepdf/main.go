package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eleven-am/slidepdf"
	"github.com/eleven-am/slidepdf/internal/config"
	"github.com/eleven-am/slidepdf/internal/fetch"
	"github.com/eleven-am/slidepdf/internal/logger"
	"github.com/eleven-am/slidepdf/internal/metrics"
	"github.com/eleven-am/slidepdf/internal/probe"
	"github.com/eleven-am/slidepdf/internal/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "json").WithError(err).Fatal("invalid configuration")
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("service stopped with error")
	}
	log.Info("service stopped")
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	met := metrics.New()
	prober := probe.NewProber(cfg.FFprobeBinary)

	router := &fetch.Router{
		Remote: fetch.NewYTDLP(fetch.YTDLPOptions{
			Binary:      cfg.YTDLPBinary,
			CookiesFile: cfg.CookiesFile,
			Format:      cfg.FetchFormat,
			Dir:         cfg.ScratchDir,
		}, log.Entry),
	}
	if cfg.AllowLocal {
		router.Local = fetch.NewLocal(prober, cfg.ScratchDir)
	}

	timeout := seconds(cfg.DeliveryTimeoutSecs)
	deliverer := webhook.New(cfg.DeliveryURL, timeout, log.Entry)

	var notifier slidepdf.Notifier
	if cfg.NotifyURL != "" {
		notifier = webhook.New(cfg.NotifyURL, timeout, log.Entry)
	}

	ctrl, err := slidepdf.NewController(buildOptions(cfg, router, prober, deliverer, notifier, log, met))
	if err != nil {
		return err
	}
	if err := ctrl.Start(ctx); err != nil {
		return err
	}

	h := &handler{ctrl: ctrl, sources: router, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", h.Health)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetEventsDropped(ctrl.EventsDropped()) }).ServeHTTP(w, r)
	})
	r.Post("/requests", h.Submit)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.ListenAddr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		ctrl.Shutdown()
		return err
	})

	return g.Wait()
}

func buildOptions(cfg config.Config, fetcher slidepdf.MediaFetcher, prober slidepdf.Prober, deliverer slidepdf.Deliverer, notifier slidepdf.Notifier, log *logger.Logger, met *metrics.Metrics) slidepdf.Options {
	ceilings := make(map[string]time.Duration, len(cfg.TierCeilings))
	for tier, minutes := range cfg.TierCeilings {
		ceilings[tier] = time.Duration(minutes * float64(time.Minute))
	}

	threshold := cfg.Threshold

	retries := cfg.DeliveryRetries
	if retries == 0 {
		retries = -1
	}

	return slidepdf.Options{
		Fetcher:          fetcher,
		Prober:           prober,
		Deliverer:        deliverer,
		Notifier:         notifier,
		Reporter:         &noteReporter{deliverer: deliverer, log: log.Entry},
		Logger:           log.Entry,
		Metrics:          met,
		FFmpegBinary:     cfg.FFmpegBinary,
		HWAccel:          cfg.HWAccel,
		Window:           time.Duration(cfg.WindowMinutes * float64(time.Minute)),
		SampleStride:     cfg.SampleStride,
		Threshold:        &threshold,
		FlushTail:        cfg.FlushTail,
		RenderWidth:      cfg.RenderWidth,
		MaxPages:         cfg.MaxPages,
		Branding:         cfg.Branding,
		MaxTotal:         cfg.MaxTotal,
		MaxPerRequester:  cfg.MaxPerUser,
		TierCeilings:     ceilings,
		DefaultTier:      cfg.DefaultTier,
		WorkerCount:      cfg.WorkerCount,
		DeliveryRetries:  retries,
		DeliveryInterval: seconds(cfg.DeliveryIntervalSecs),
		ScratchDir:       cfg.ScratchDir,
		MinFreeBytes:     cfg.MinFreeBytes,
		EventBacklog:     cfg.EventBacklog,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
