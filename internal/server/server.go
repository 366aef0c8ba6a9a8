// Package server собирает HTTP-поверхность движка: точку подключения
// WebSocket, health check и аудиторские эндпоинты.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/avdeyev/holst/internal/auth"
	"github.com/avdeyev/holst/internal/server/handlers"
	"github.com/avdeyev/holst/internal/server/middleware"
	"github.com/avdeyev/holst/internal/session"
)

// Config параметры HTTP-сервера.
type Config struct {
	Addr            string
	Version         string
	ConnectRate     int           // подключений с одного IP в окно
	ConnectWindow   time.Duration // окно rate limit подключений
	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		Version:         "dev",
		ConnectRate:     30,
		ConnectWindow:   time.Minute,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Server HTTP-сервер движка синхронизации.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        Config
}

// New собирает маршруты и middleware-цепочку.
func New(
	cfg Config,
	manager *session.Manager,
	authorizer auth.Authorizer,
	health *handlers.HealthHandler,
	audit *handlers.AuditHandler,
	logger *slog.Logger,
) *Server {
	router := mux.NewRouter()

	// WebSocket-подключения: rate limit на установку соединения,
	// авторизация - внутри рукопожатия протокола.
	router.Handle("/ws/{documentID}",
		middleware.RateLimitMiddleware(cfg.ConnectRate, cfg.ConnectWindow, logger)(
			http.HandlerFunc(manager.ServeWS),
		)).Methods(http.MethodGet)

	router.HandleFunc("/api/v1/health", health.Health).Methods(http.MethodGet)

	// Аудиторские read-only эндпоинты за bearer-авторизацией.
	authMw := middleware.AuthMiddleware(logger, authorizer)
	router.Handle("/api/v1/documents/{documentID}/snapshots",
		authMw(http.HandlerFunc(audit.ListSnapshots))).Methods(http.MethodGet)
	router.Handle("/api/v1/documents/{documentID}/export",
		authMw(http.HandlerFunc(audit.Export))).Methods(http.MethodGet)

	var handler http.Handler = router
	handler = middleware.LoggingWithSkip(logger, []string{"/api/v1/health"})(handler)
	handler = middleware.RecoveryMiddleware(logger)(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
		cfg:    cfg,
	}
}

// Run запускает сервер и блокирует до отмены контекста, после чего
// выполняет graceful shutdown HTTP-слоя.
func (s *Server) Run(ctx context.Context) error {
	errC := make(chan error, 1)

	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr, "version", s.cfg.Version)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
