package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nkiryanov/gozon/internal/logger"
)

const DefaultShutdownTimeout = 5 * time.Second

// Server is HTTP server closed gracefully on context cancellation
type Server struct {
	ListenAddr      string
	Handler         http.Handler
	ShutdownTimeout time.Duration

	logger logger.Logger
}

func New(listenAddr string, handler http.Handler, l logger.Logger) *Server {
	return &Server{
		ListenAddr:      listenAddr,
		Handler:         handler,
		ShutdownTimeout: DefaultShutdownTimeout,
		logger:          l.With("component", "http-server"),
	}
}

// Run serves until context is cancelled. Returns nil after graceful stop
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
			_ = httpServer.Close()
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
