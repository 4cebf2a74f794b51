// Package httpapi mirrors the pump namespace over HTTP and exposes health,
// readiness and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/ionpump/internal/auth"
	"github.com/danmuck/ionpump/internal/device"
	"github.com/danmuck/ionpump/internal/observability"
	"github.com/danmuck/ionpump/internal/rpc"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Config controls the HTTP surface. An empty ListenAddr disables it.
// A non-empty APIToken puts every POST route behind a bearer token.
type Config struct {
	ListenAddr      string
	CORSOrigins     []string
	ShutdownTimeout time.Duration `validate:"gte=0"`
	APIToken        string
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:      "localhost:8080",
		CORSOrigins:     []string{"http://localhost:3000"},
		ShutdownTimeout: 5 * time.Second,
	}
}

type Server struct {
	api     rpc.API
	cfg     Config
	router  *gin.Engine
	started time.Time
}

// New builds the router. api is usually the local rpc.Namespace.
func New(api rpc.API, cfg Config) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{api: api, cfg: cfg, router: r, started: time.Now()}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on cfg.ListenAddr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              strings.TrimSpace(s.cfg.ListenAddr),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("httpapi.Server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// snapshotter is implemented by APIs that can report session state without
// queueing behind an exchange. rpc.Namespace does; a remote rpc.Client does not.
type snapshotter interface {
	Snapshot() device.Info
}

func (s *Server) sessionInfo(ctx context.Context) (device.Info, error) {
	if sn, ok := s.api.(snapshotter); ok {
		return sn.Snapshot(), nil
	}
	return s.api.SessionInfo(ctx)
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ready means the pump link is open and exchanges can be attempted
	r.GET("/ready", func(c *gin.Context) {
		info, err := s.sessionInfo(c.Request.Context())
		if err != nil {
			s.fail(c, err)
			return
		}
		ready := info.State == "connected"
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"state":   info.State,
			"uptime":  time.Since(s.started).String(),
			"version": version,
		})
	})

	r.GET("/status", func(c *gin.Context) {
		info, err := s.sessionInfo(c.Request.Context())
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	})

	pump := r.Group("/pump")
	pump.GET("/pressure", s.reading(s.api.GetPressure))
	pump.GET("/voltage", s.reading(s.api.GetVoltage))
	pump.GET("/current", s.reading(s.api.GetCurrent))
	pump.GET("/status", func(c *gin.Context) {
		st, err := s.api.GetStatus(c.Request.Context())
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": st})
	})
	pump.GET("/address", func(c *gin.Context) {
		addr, err := s.api.GetPumpAddress(c.Request.Context())
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"address": addr})
	})

	control := pump.Group("")
	if token := strings.TrimSpace(s.cfg.APIToken); token != "" {
		control.Use(auth.RequireToken(auth.StaticToken{Token: token}))
	}
	control.POST("/on", s.command(s.api.TurnOn))
	control.POST("/off", s.command(s.api.TurnOff))
	control.POST("/connect", func(c *gin.Context) {
		var body struct {
			Port string `json:"port" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": rpc.KindBadRequest})
			return
		}
		msg, err := s.api.ConnectToPort(c.Request.Context(), body.Port)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": msg})
	})
	control.POST("/disconnect", func(c *gin.Context) {
		if err := s.api.Disconnect(c.Request.Context()); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	control.POST("/address", func(c *gin.Context) {
		var body struct {
			Address *int `json:"address" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": rpc.KindBadRequest})
			return
		}
		if err := s.api.SetPumpAddress(c.Request.Context(), *body.Address); err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"address": *body.Address})
	})
}

func (s *Server) reading(read func(context.Context) (float64, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := read(c.Request.Context())
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"value": v})
	}
}

func (s *Server) command(run func(context.Context) (string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		reply, err := run(c.Request.Context())
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reply": reply})
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	kind := rpc.KindOf(err)
	c.Set(observability.ErrorKindKey, string(kind))
	c.JSON(StatusForKind(kind), gin.H{"error": err.Error(), "kind": kind})
}

// StatusForKind maps an error kind onto an HTTP status code.
func StatusForKind(kind rpc.ErrorKind) int {
	switch kind {
	case rpc.KindValidation, rpc.KindBadRequest:
		return http.StatusBadRequest
	case rpc.KindUnknownMethod:
		return http.StatusNotFound
	case rpc.KindNotConnected:
		return http.StatusConflict
	case rpc.KindConnection, rpc.KindProtocol:
		return http.StatusBadGateway
	case rpc.KindCommunication:
		return http.StatusGatewayTimeout
	case rpc.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
