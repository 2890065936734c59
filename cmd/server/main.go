package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loopcast/internal/media"
	"loopcast/internal/platform/config"
	"loopcast/internal/platform/logger"
	"loopcast/internal/platform/metrics"
	"loopcast/internal/platform/ratelimit"
	"loopcast/internal/session"
	"loopcast/web"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	static, err := web.Static()
	if err != nil {
		log.Error("load dashboard assets", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	lib := media.NewLibrary(cfg.MediaDir, int64(cfg.MaxUploadMB)<<20, log)

	profile := session.DefaultProfile()
	profile.RTMPHost = cfg.RTMPHost
	sup := session.NewSupervisor(cfg.EncoderPath, cfg.StopGrace, log)
	ctrl := session.NewController(sup, session.NewLogSink(cfg.LogBufferSize), profile, log, met)

	sh := session.NewHandler(ctrl, lib, log)
	mh := media.NewHandler(lib, log)
	control := ratelimit.PerIP(cfg.RatePerMinute, time.Minute)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() {
			met.SetStreamState(ctrl.Status().State.String())
			if items, err := lib.List(); err == nil {
				met.SetMediaFiles(len(items))
			}
		}).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Get("/", sh.Status)
			r.Get("/logs", sh.Logs)
			r.Get("/feed", sh.Feed)
			r.With(control).Post("/start", sh.Start)
			r.With(control).Post("/stop", sh.Stop)
		})
		r.Get("/media", mh.List)
		r.Get("/media/{name}", mh.Serve)
		r.With(control).Post("/media", mh.Upload)
	})
	r.Handle("/*", http.FileServer(http.FS(static)))

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return lib.Watch(gctx, func() {
			if items, err := lib.List(); err == nil {
				met.SetMediaFiles(len(items))
			}
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, stopping encoder and draining connections")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := ctrl.Shutdown(shutdownCtx); err != nil {
			log.Error("encoder shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("server starting",
		"port", cfg.Port,
		"media_dir", cfg.MediaDir,
		"encoder", cfg.EncoderPath,
		"rtmp_host", cfg.RTMPHost,
		"log_level", cfg.LogLevel,
	)

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
