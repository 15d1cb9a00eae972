package monitor

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/polebot/climber/pkg/climb"
	"github.com/polebot/climber/pkg/version"
)

func (s *Server) getStatus(c *gin.Context) {
	if s.opts.Session == nil {
		c.IndentedJSON(http.StatusServiceUnavailable, "no session")
		_ = c.AbortWithError(http.StatusServiceUnavailable, errors.New("no session"))
		return
	}
	c.IndentedJSON(http.StatusOK, s.opts.Session.Status())
}

func (s *Server) getConfig(c *gin.Context) {
	if s.opts.Config == nil {
		c.IndentedJSON(http.StatusNotFound, "no config loaded")
		_ = c.AbortWithError(http.StatusNotFound, errors.New("no config loaded"))
		return
	}
	c.IndentedJSON(http.StatusOK, s.opts.Config.Raw())
}

func (s *Server) putAbort(c *gin.Context) {
	if s.opts.Session != nil {
		if st := s.opts.Session.Status().State; st == climb.StateFinalizing || st == climb.StateDone {
			c.IndentedJSON(http.StatusConflict, "session is already finishing")
			return
		}
	}
	if s.opts.Abort == nil {
		c.IndentedJSON(http.StatusNotImplemented, "session cannot be aborted")
		_ = c.AbortWithError(http.StatusNotImplemented, errors.New("no abort function"))
		return
	}

	s.mu.Lock()
	first := !s.aborted
	s.aborted = true
	s.mu.Unlock()

	if first {
		logrus.Warn("abort requested through the monitor")
	}
	s.opts.Abort()

	c.IndentedJSON(http.StatusCreated, "abort requested, the session stops at the next step boundary")
}

func (s *Server) getEvents(c *gin.Context) {
	if s.opts.Hub == nil {
		c.IndentedJSON(http.StatusNotFound, "events are not available")
		return
	}

	sub := s.opts.Hub.Subscribe()
	defer s.opts.Hub.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			c.SSEvent(ev.Name, ev.Data)
			c.Writer.Flush()
		}
	}
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
