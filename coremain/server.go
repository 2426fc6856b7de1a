package coremain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/neardns/neardns/pkg/kvstore"
	"github.com/neardns/neardns/pkg/recordstore"
	"github.com/neardns/neardns/pkg/registry"
	"github.com/neardns/neardns/plugin/recordapi"
)

const shutdownTimeout = 5 * time.Second

// Server owns the store and the http api of one deployment.
type Server struct {
	cfg     *Config
	logger  *zap.Logger
	store   *recordstore.Store
	handler http.Handler
}

func NewServer(cfg *Config, logger *zap.Logger) (*Server, error) {
	backend, err := kvstore.Open(cfg.Store, logger.Named("kv"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store backend: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, created, err := recordstore.OpenOrNew(context.Background(), backend, recordstore.Opts{
		Logger:     logger.Named("store"),
		MetricsReg: reg,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	logger.Info("store ready",
		zap.String("type", cfg.Store.Type),
		zap.Bool("created", created),
		zap.Uint64("cost_of_insertion", uint64(store.Cost())),
	)

	api := recordapi.New(registry.New(store), recordapi.Opts{
		Logger:     logger.Named("api"),
		WriteRate:  cfg.API.WriteRate,
		WriteBurst: cfg.API.WriteBurst,
		Gatherer:   reg,
	})
	return &Server{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		handler: api.Router(),
	}, nil
}

// Run listens on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.API.HTTP)
	if err != nil {
		_ = s.store.Close()
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves the api on l until ctx is done, then shuts down and closes
// the store.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	defer func() {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("failed to close store", zap.Error(err))
		}
	}()

	hs := &http.Server{Handler: s.handler}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting api http server", zap.Stringer("addr", l.Addr()))
		if err := hs.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down api http server")
		return hs.Shutdown(sctx)
	})
	return g.Wait()
}
