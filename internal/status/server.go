// Package status serves health, connection status and Prometheus metrics
// over HTTP.
package status

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"token-wallet-monitor/internal/engine"
	"token-wallet-monitor/internal/observability"
)

// Provider reports the engine's connection status.
type Provider interface {
	GetConnectionStatus(ctx context.Context) engine.ConnectionStatus
}

// probeTimeout bounds the upstream probe behind /status.
const probeTimeout = 10 * time.Second

// NewRouter builds the gin engine with /health, /status and /metrics.
func NewRouter(provider Provider, log *logrus.Entry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(AccessLog(log, "/health", "/metrics"), gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(observability.Handler()))
	router.GET("/status", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
		defer cancel()

		status := provider.GetConnectionStatus(ctx)
		code := http.StatusOK
		if !status.Connected {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	return router
}

// AccessLog logs each request with its latency. Paths in skip are served
// without logging.
func AccessLog(log *logrus.Entry, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()

		if _, ok := skipped[path]; ok {
			return
		}
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		entry := log.WithFields(logrus.Fields{
			"statusCode": c.Writer.Status(),
			"latency":    fmt.Sprintf("%d us", int(math.Ceil(float64(time.Since(start).Nanoseconds())/1000.0))),
			"clientIP":   c.ClientIP(),
			"method":     c.Request.Method,
			"path":       path,
		})

		switch status := c.Writer.Status(); {
		case len(c.Errors) > 0:
			entry.Error(c.Errors.ByType(gin.ErrorTypePrivate).String())
		case status >= http.StatusInternalServerError:
			entry.Error()
		case status >= http.StatusBadRequest:
			entry.Warn()
		default:
			entry.Debug()
		}
	}
}

// Server runs the router until its context is cancelled.
type Server struct {
	srv *http.Server
	log *logrus.Entry
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, provider Provider, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.WithField("component", "status")
	}
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(provider, log),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		log: log,
	}
}

// Run serves until ctx is done, then shuts down with a 5s grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.srv.Addr).Info("status server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return nil
}
