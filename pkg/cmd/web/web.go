package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/igolaizola/musigen/pkg/filestore/local"
	"github.com/igolaizola/musigen/pkg/service"
	"go.uber.org/zap"
)

type Config struct {
	Service service.Config

	Addr    string
	Volumes map[string]string
}

// Serve starts the music generation service and blocks until ctx is done.
func Serve(ctx context.Context, cfg *Config) error {
	log := cfg.Service.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("web")
	log.Info("server started")
	defer log.Info("server ended")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	svc, err := service.New(ctx, &cfg.Service)
	if err != nil {
		return fmt.Errorf("web: couldn't create service: %w", err)
	}
	defer svc.Close()

	mux := New(svc, &Options{
		Debug:   cfg.Service.Debug,
		Logger:  log,
		Volumes: volumes(&cfg.Service, cfg.Volumes),
	})

	// Create server
	split := strings.Split(cfg.Addr, ":")
	if len(split) != 2 {
		return fmt.Errorf("web: invalid address: %s", cfg.Addr)
	}
	host := split[0]
	port, err := strconv.Atoi(split[1])
	if err != nil {
		return fmt.Errorf("web: invalid port: %s", split[1])
	}
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
	errC := make(chan error, 1)
	go func() {
		note := fmt.Sprintf("http://%s:%d", host, port)
		if host == "" {
			note = fmt.Sprintf("all interfaces http://localhost:%d", port)
		}
		log.Info("starting server", zap.String("addr", note), zap.String("model", svc.Model()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return fmt.Errorf("web: couldn't start server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("couldn't shutdown server", zap.Error(err))
	}
	log.Info("waiting for running tasks")
	return nil
}

// volumes adds the local file store root to the served volumes.
func volumes(cfg *service.Config, vs map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range vs {
		out[k] = v
	}
	if cfg.FSType == "local" && cfg.FSConn != "" {
		out[cfg.FSConn] = local.Prefix
	}
	return out
}

type Options struct {
	Debug  bool
	Logger *zap.Logger
	// Volumes maps local folders to the path they are served under.
	Volumes map[string]string
}

// New returns the router for the service.
func New(svc *service.Service, opts *Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{svc: svc, log: log}

	// Create router
	mux := chi.NewRouter()

	// Add middleware
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	// Handler to serve static files defined via volumes
	for dir, path := range opts.Volumes {
		path = strings.Trim(path, "/")
		path = fmt.Sprintf("/%s/", path)
		mux.Get(path+"*", http.StripPrefix(path, http.FileServer(http.Dir(dir))).ServeHTTP)
	}

	// Create subrouter for api endpoints
	mux.Group(func(r chi.Router) {
		if opts.Debug {
			r.Use(middleware.Logger)
		}
		r.Get("/health", h.health)
		r.Post("/api/music/generate", h.submit)
		r.Get("/api/music/task/status", h.status)
		r.Get("/api/music/tracks", h.tracks)
		r.Get("/api/music/tracks/{id}", h.track)
		r.Delete("/api/music/tracks/{id}", h.deleteTrack)
	})
	return mux
}
