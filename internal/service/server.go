package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anatoly-dev/game-realtime/pkg/config"
	"github.com/anatoly-dev/game-realtime/pkg/handlers"
	"github.com/anatoly-dev/game-realtime/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is a background loop that runs until its context is cancelled.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type Server struct {
	server         *http.Server
	wsHandler      *handlers.WebSocketHandler
	healthHandler  *handlers.HealthCheckHandler
	metricsHandler *metrics.MetricsHandler
	coordinator    *ShutdownCoordinator
	tasks          []Task
	closers        []func() error
	logger         *zap.Logger
	cfg            *config.Config
}

func NewServer(
	wsHandler *handlers.WebSocketHandler,
	healthHandler *handlers.HealthCheckHandler,
	metricsHandler *metrics.MetricsHandler,
	coordinator *ShutdownCoordinator,
	logger *zap.Logger,
	cfg *config.Config,
) *Server {
	return &Server{
		wsHandler:      wsHandler,
		healthHandler:  healthHandler,
		metricsHandler: metricsHandler,
		coordinator:    coordinator,
		logger:         logger,
		cfg:            cfg,
	}
}

func (s *Server) AddTask(name string, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, Task{Name: name, Run: run})
}

// AddCloser registers a resource released after the HTTP server stops.
func (s *Server) AddCloser(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler.HandleConnection)
	mux.Handle("/health", s.metricsHandler.Instrument("/health", http.HandlerFunc(s.healthHandler.HandleHealthCheck)))
	mux.Handle("/metrics", s.metricsHandler.Instrument("/metrics", s.metricsHandler.Handler()))
	return mux
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	for _, task := range s.tasks {
		task := task
		g.Go(func() error {
			s.logger.Info("Starting background task", zap.String("task", task.Name))
			if err := task.Run(gctx); err != nil {
				return fmt.Errorf("%s: %w", task.Name, err)
			}
			return nil
		})
	}
	s.coordinator.SetTasks(cancel, g.Wait)

	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.cfg.Server.Port))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	return s.waitForShutdown(gctx)
}

func (s *Server) waitForShutdown(tasks context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-tasks.Done():
		s.logger.Error("Background task stopped, shutting down")
	}

	shutdownTimeout := 30 * time.Second
	if s.cfg.Shutdown.Timeout > 0 {
		shutdownTimeout = s.cfg.Shutdown.Timeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.Shutdown(ctx)
}

// Shutdown drains clients, stops background tasks, then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down services")

	var errs []error
	if err := s.coordinator.Shutdown(ctx); err != nil {
		s.logger.Error("Error draining connections", zap.Error(err))
		errs = append(errs, err)
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown server: %w", err))
		}
	}

	for _, closer := range s.closers {
		if err := closer(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.logger.Info("Server stopped gracefully")
	return nil
}
