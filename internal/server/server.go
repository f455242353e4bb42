package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/MrSnakeDoc/wxproxy/internal/cache"
	"github.com/MrSnakeDoc/wxproxy/internal/config"
	"github.com/MrSnakeDoc/wxproxy/internal/logger"
	"github.com/MrSnakeDoc/wxproxy/internal/service"
)

const shutdownGrace = 10 * time.Second

type Server struct {
	cfg     *config.Config
	store   *cache.Store
	routes  []Route
	handler http.Handler
}

// New assembles the dispatch table, the response cache and, when a rate is
// configured, the per-client limiter. A nil store gets one built from cfg.
func New(cfg *config.Config, store *cache.Store, client service.HTTPClient) *Server {
	if store == nil {
		store = cache.New(cfg.CacheTTL, cache.WithSweepInterval(cfg.SweepInterval))
	}
	if client == nil {
		client = service.NewHTTPClient(cfg.UpstreamTimeout)
	}

	routes := Routes(cfg, client)
	var h http.Handler = withCache(store, newRouter(routes))
	if cfg.RateLimit > 0 {
		h = newClientLimiter(cfg.RateLimit, cfg.RateBurst).Middleware(h)
	}

	return &Server{cfg: cfg, store: store, routes: routes, handler: h}
}

func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) Routes() []Route { return s.routes }

func (s *Server) Store() *cache.Store { return s.store }

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until ctx is cancelled, then drains in-flight
// requests and stops the cache sweeper.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.store.Start(ctx)
	defer s.store.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Success("wxproxy listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
