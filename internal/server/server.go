// Package server hosts the development gateway: the XlmEcosystemService gRPC endpoint and a
// small admin HTTP API, with a shared lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/matiasleandrokruk/xlmsession/internal/domain/registry"
	"github.com/matiasleandrokruk/xlmsession/internal/infra/eventbus"
	"github.com/matiasleandrokruk/xlmsession/internal/infra/gateway"
	"github.com/matiasleandrokruk/xlmsession/internal/infra/llm"
)

// Config holds listener and timeout configuration.
type Config struct {
	GRPCAddr  string
	AdminAddr string // empty disables the admin API

	// AuthSecret turns on bearer token verification for every gRPC call.
	AuthSecret string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:        "0.0.0.0:50051",
		AdminAddr:       "127.0.0.1:8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server wraps the gRPC server, the admin HTTP server and the event bus they share.
type Server struct {
	config   Config
	registry *registry.Registry
	router   *llm.Router
	bus      *eventbus.Bus
	logger   *slog.Logger

	grpc *grpc.Server
	http *http.Server

	stats        *eventStats
	consumers    sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

// New wires a Registry over router and prepares both servers. Nothing listens until
// Start or Serve is called.
func New(router *llm.Router, config Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	bus := eventbus.New()
	reg := registry.New(router, registry.WithEventBus(bus), registry.WithLogger(logger))

	var opts []grpc.ServerOption
	if config.AuthSecret != "" {
		secret := []byte(config.AuthSecret)
		opts = append(opts,
			grpc.UnaryInterceptor(gateway.UnaryAuthInterceptor(secret)),
			grpc.StreamInterceptor(gateway.StreamAuthInterceptor(secret)),
		)
	}
	grpcServer := grpc.NewServer(opts...)
	gateway.Register(grpcServer, reg)

	s := &Server{
		config:   config,
		registry: reg,
		router:   router,
		bus:      bus,
		logger:   logger,
		grpc:     grpcServer,
		stats:    newEventStats(),
	}
	s.http = &http.Server{
		Addr:         config.AdminAddr,
		Handler:      s.adminRouter(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	s.consumeEvents()
	return s
}

// Registry returns the client registry the gRPC service is backed by.
func (s *Server) Registry() *registry.Registry { return s.registry }

// Start listens on the configured addresses and serves until ctx ends or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	grpcLis, err := net.Listen("tcp", s.config.GRPCAddr)
	if err != nil {
		return fmt.Errorf("server: listen grpc %s: %w", s.config.GRPCAddr, err)
	}
	var adminLis net.Listener
	if s.config.AdminAddr != "" {
		adminLis, err = net.Listen("tcp", s.config.AdminAddr)
		if err != nil {
			_ = grpcLis.Close()
			return fmt.Errorf("server: listen admin %s: %w", s.config.AdminAddr, err)
		}
	}
	return s.Serve(ctx, grpcLis, adminLis)
}

// Serve serves on already bound listeners. adminLis may be nil. When ctx ends the servers
// are shut down gracefully within Config.ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, grpcLis, adminLis net.Listener) error {
	errCh := make(chan error, 2)

	s.logger.Info("gateway listening", "grpc", grpcLis.Addr().String(), "providers", len(s.router.Providers()))
	go func() {
		if err := s.grpc.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("server: grpc: %w", err)
		}
	}()
	if adminLis != nil {
		s.logger.Info("admin API listening", "addr", adminLis.Addr().String())
		go func() {
			if err := s.http.Serve(adminLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server: admin: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return errors.Join(serveErr, s.Shutdown(shutdownCtx))
}

// Shutdown stops accepting work, waits for in-flight calls until ctx ends and then forces
// the rest closed. Only the first call does any work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down gateway")

		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.grpc.Stop()
			<-stopped
		}

		if err := s.http.Shutdown(ctx); err != nil {
			s.shutdownErr = fmt.Errorf("server: admin shutdown: %w", err)
		}

		s.bus.Close()
		s.consumers.Wait()
		s.logger.Info("gateway shutdown complete", "events_dropped", s.bus.Dropped())
	})
	return s.shutdownErr
}

// consumeEvents logs and counts every lifecycle event until the bus is closed.
func (s *Server) consumeEvents() {
	for _, topic := range eventbus.Topics() {
		ch := s.bus.Subscribe(topic)
		s.consumers.Add(1)
		go func() {
			defer s.consumers.Done()
			for evt := range ch {
				s.stats.add(evt.Topic)
				if ce, ok := evt.Payload.(eventbus.ClientEvent); ok {
					s.logger.Debug("gateway event", "topic", evt.Topic, "client_id", ce.ClientID, "provider", ce.Provider, "detail", ce.Detail)
				}
			}
		}()
	}
}

type eventStats struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newEventStats() *eventStats {
	return &eventStats{counts: make(map[string]int64)}
}

func (e *eventStats) add(topic string) {
	e.mu.Lock()
	e.counts[topic]++
	e.mu.Unlock()
}

func (e *eventStats) snapshot() map[string]int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]int64, len(e.counts))
	for k, v := range e.counts {
		out[k] = v
	}
	return out
}
