// Package monitor serves the state of a running session over a unix socket.
package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/polebot/climber/pkg/climb"
	"github.com/polebot/climber/pkg/config"
	"github.com/polebot/climber/pkg/events"
)

// DefaultSocketPath is where the monitor listens unless told otherwise.
const DefaultSocketPath = "/var/run/climber.sock"

// StatusSource is the session being monitored. *climb.Supervisor implements it.
type StatusSource interface {
	Status() climb.Status
}

// Options wires the server to a session.
type Options struct {
	Session StatusSource
	Config  *config.File
	Hub     *events.Hub
	// Abort cancels the session context.
	Abort context.CancelFunc
	// AllowNonRoot makes the socket world-writable.
	AllowNonRoot bool
}

// Server is the monitor HTTP API.
type Server struct {
	opts   Options
	router *gin.Engine
	srv    *http.Server

	mu         sync.Mutex
	socketPath string
	aborted    bool
}

func New(opts Options) *Server {
	s := &Server{opts: opts}
	s.router = s.setupRoutes()
	s.srv = &http.Server{Handler: s.router}
	return s
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/status", s.getStatus)
	router.GET("/config", s.getConfig)
	router.GET("/events", s.getEvents)
	router.PUT("/abort", s.putAbort)
	router.GET("/version", getVersion)

	return router
}

// Handler returns the router, for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on socketPath and serves in the background. A stale socket
// left by a previous run is removed first.
func (s *Server) Start(socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrapf(err, "failed to remove stale socket %s", socketPath)
	}

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", socketPath)
	}

	if s.opts.AllowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", socketPath)
		if err := os.Chmod(socketPath, 0777); err != nil {
			_ = l.Close()
			return pkgerrors.Wrapf(err, "failed to chmod %s", socketPath)
		}
	}

	s.mu.Lock()
	s.socketPath = socketPath
	s.mu.Unlock()

	go func() {
		logrus.Infof("monitor listening on %s", l.Addr().String())
		if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("monitor server stopped")
		}
	}()
	return nil
}

// Shutdown ends open event streams, stops the server and removes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.opts.Hub.Close()

	err := s.srv.Shutdown(ctx)

	s.mu.Lock()
	path := s.socketPath
	s.mu.Unlock()
	if path != "" {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			logrus.WithError(rmErr).Warnf("failed to remove socket %s", path)
		}
	}

	if err != nil {
		return pkgerrors.Wrap(err, "failed to shut down monitor")
	}
	return nil
}
