package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brightline-ai/voice-agent-gateway/internal/config"
	"github.com/brightline-ai/voice-agent-gateway/internal/handler"
	"github.com/brightline-ai/voice-agent-gateway/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server is the voice-agent gateway HTTP server.
type Server struct {
	config         *config.Config
	router         *mux.Router
	handlerManager *handler.HandlerManager
	httpServer     *http.Server
}

// NewServer wires the gateway and registers all routes.
func NewServer(cfg *config.Config) (*Server, error) {
	router := mux.NewRouter()

	handlerManager, err := handler.NewHandlerManager(cfg)
	if err != nil {
		return nil, err
	}
	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.Port),
			Handler: router,
			// Webhook handlers fan out to the commerce API and may take
			// several seconds; the write timeout must outlive that budget.
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Start serves HTTP until the listener closes.
func (s *Server) Start() error {
	logger.Base().Info("starting server",
		zap.String("addr", s.httpServer.Addr),
		zap.String("environment", s.config.Environment),
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown closes the listener, then releases the handler manager's
// resources with one final session sweep.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Base().Warn("http shutdown did not complete cleanly", zap.Error(err))
	}
	s.handlerManager.Close()
}

func main() {
	// Load .env for local development; deployment env vars win.
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		log.Printf("Failed to initialize zap logger, falling back to std log: %v", err)
	}
	defer logger.Sync()

	cfg := config.LoadConfig()

	server, err := NewServer(cfg)
	if err != nil {
		logger.Base().Fatal("failed to initialize server", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case sig := <-stop:
		logger.Base().Info("shutdown signal received", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Base().Fatal("server failed", zap.Error(err))
		}
	}
}
