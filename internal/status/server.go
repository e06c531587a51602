// Package status exposes run history and health over HTTP while the
// harness drives the devices.
package status

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/rangectl/internal/observability"
)

type Server struct {
	name     string
	addr     string
	appeared time.Time
	recorder *Recorder
	router   *gin.Engine
}

func NewServer(name, addr string, corsOrigins []string, recorder *Recorder) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		name:     name,
		addr:     addr,
		appeared: time.Now(),
		recorder: recorder,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.appeared).String(),
			"component": s.name,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":     true,
			"uptime":    time.Since(s.appeared).String(),
			"component": s.name,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/api/runs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"runs": s.recorder.Runs()})
	})

	s.router.GET("/api/runs/latest", func(c *gin.Context) {
		report, ok := s.recorder.Latest()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no runs recorded"})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	s.router.GET("/api/runs/:id", func(c *gin.Context) {
		report, ok := s.recorder.Run(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

// Serve blocks until the context is cancelled, then shuts the listener
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", s.addr).Msg("status server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
