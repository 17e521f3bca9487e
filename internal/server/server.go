package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"example.com/simplehttp/internal/config"
	"example.com/simplehttp/internal/logger"
	"example.com/simplehttp/internal/util"
)

// Server manages the listener and HTTP server lifecycle, including signal
// driven log reopening and graceful shutdown.
type Server struct {
	cfg     *config.Config
	log     *logger.Logger
	handler http.Handler

	mu         sync.RWMutex
	listener   net.Listener
	httpServer *http.Server

	readyChan    chan struct{}
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	doneChan     chan struct{}
	signals      chan os.Signal
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, lg *logger.Logger, handler http.Handler) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Server == nil {
		return nil, fmt.Errorf("server configuration section (server) is missing")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}
	return &Server{
		cfg:          cfg,
		log:          lg,
		handler:      handler,
		readyChan:    make(chan struct{}),
		shutdownChan: make(chan struct{}),
		doneChan:     make(chan struct{}),
		signals:      make(chan os.Signal, 1),
	}, nil
}

func (s *Server) initializeListener() error {
	address := s.cfg.Server.ListenAddress()
	l, inherited, err := util.Listen(address)
	if err != nil {
		if util.IsAddrInUse(err) {
			return fmt.Errorf("port %d is already in use: %w", *s.cfg.Server.Port, err)
		}
		return fmt.Errorf("failed to create listener on %s: %w", address, err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	if inherited {
		s.log.Info("Using socket-activated listener", logger.LogFields{"localAddr": l.Addr().String()})
	} else {
		s.log.Debug("Created new listener", logger.LogFields{"address": address, "localAddr": l.Addr().String()})
	}
	return nil
}

func (s *Server) buildHTTPServer() *http.Server {
	h := s.handler
	if s.cfg.Server.EnableH2C != nil && *s.cfg.Server.EnableH2C {
		h = h2c.NewHandler(h, &http2.Server{})
	}
	return &http.Server{
		Handler:  h,
		ErrorLog: s.log.StdLogger(),
	}
}

// Start binds the listener and serves until a shutdown signal arrives or
// Shutdown is called. SIGHUP reopens log files without interrupting service.
func (s *Server) Start() error {
	defer close(s.doneChan)

	if err := s.initializeListener(); err != nil {
		return err
	}

	srv := s.buildHTTPServer()
	s.mu.Lock()
	s.httpServer = srv
	listener := s.listener
	s.mu.Unlock()

	signal.Notify(s.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(s.signals)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()
	close(s.readyChan)

	s.log.Info("Server started", logger.LogFields{
		"address":   listener.Addr().String(),
		"directory": s.cfg.Server.Directory,
		"h2c":       s.cfg.Server.EnableH2C != nil && *s.cfg.Server.EnableH2C,
	})

	for {
		select {
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("server stopped unexpectedly: %w", err)
		case sig := <-s.signals:
			if sig == syscall.SIGHUP {
				if err := s.log.ReopenLogFiles(); err != nil {
					s.log.Error("Failed to reopen log files", logger.LogFields{"error": err.Error()})
					continue
				}
				s.log.Info("Log files reopened after SIGHUP", nil)
				continue
			}
			s.log.Info("Received signal, shutting down", logger.LogFields{"signal": sig.String()})
			return s.gracefulShutdown(srv, serveErr)
		case <-s.shutdownChan:
			return s.gracefulShutdown(srv, serveErr)
		}
	}
}

func (s *Server) shutdownTimeout() time.Duration {
	if d := s.cfg.Server.GracefulShutdownTimeout; d != nil && d.Duration > 0 {
		return d.Duration
	}
	return config.DefaultGracefulShutdownTimeout
}

// gracefulShutdown stops accepting connections and waits for in-flight
// requests until the shutdown timeout, then closes whatever remains.
func (s *Server) gracefulShutdown(srv *http.Server, serveErr <-chan error) error {
	timeout := s.shutdownTimeout()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err != nil {
		s.log.Warn("Graceful shutdown timed out, closing remaining connections", logger.LogFields{
			"timeout": timeout.String(),
			"error":   err.Error(),
		})
		srv.Close()
	}
	if serr := <-serveErr; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		return fmt.Errorf("server stopped unexpectedly: %w", serr)
	}
	s.log.Info("Server stopped", nil)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Shutdown asks a running Start to stop and waits for it to return or for
// ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
	select {
	case <-s.doneChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed once the listener is bound and serving.
func (s *Server) Ready() <-chan struct{} { return s.readyChan }

// Done is closed when Start returns.
func (s *Server) Done() <-chan struct{} { return s.doneChan }

// Addr returns the bound address, or nil before the listener exists.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
