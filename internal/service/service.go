// Package service wires the pump session, access guard, RPC listener and
// HTTP surface into one daemon lifecycle.
package service

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/ionpump/internal/device"
	"github.com/danmuck/ionpump/internal/guard"
	"github.com/danmuck/ionpump/internal/httpapi"
	"github.com/danmuck/ionpump/internal/observability"
	"github.com/danmuck/ionpump/internal/rpc"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Service owns the one device session for the process.
type Service struct {
	cfg     Config
	session *device.Session
	guard   *guard.Mutex[*device.Session]
	ns      *rpc.Namespace
	rpc     *rpc.Server
	http    *httpapi.Server

	mu      sync.Mutex
	rpcAddr net.Addr
}

// New builds a service. open defaults to the serial opener.
func New(cfg Config, open device.OpenFunc) *Service {
	session := device.NewSession(cfg.Device, open)
	m := guard.New(session)
	ns := rpc.NewNamespace(m)
	s := &Service{
		cfg:     cfg,
		session: session,
		guard:   m,
		ns:      ns,
		rpc:     rpc.NewServer(ns, cfg.RPC),
	}
	if strings.TrimSpace(cfg.HTTP.ListenAddr) != "" {
		s.http = httpapi.New(ns, cfg.HTTP)
	}
	return s
}

func (s *Service) Namespace() *rpc.Namespace {
	return s.ns
}

// RPCAddr returns the bound RPC listener address once serving.
func (s *Service) RPCAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpcAddr
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext runs until ctx ends or a listener fails. The device is
// disconnected on return.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	observability.RegisterMetrics()
	defer s.shutdown()

	ln, err := s.cfg.RPC.Security.Listen(strings.TrimSpace(s.cfg.RPC.ListenAddr))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rpcAddr = ln.Addr()
	s.mu.Unlock()
	log.Info().Str("addr", ln.Addr().String()).Bool("tls", s.cfg.RPC.Security.TLS.Enabled).Msg("service.Service rpc listening")

	s.bootstrap(ctx)
	return s.serve(ctx, ln)
}

// bootstrap opens the configured port. Failing every attempt leaves the
// service up and disconnected.
func (s *Service) bootstrap(ctx context.Context) {
	port := strings.TrimSpace(s.cfg.Port)
	if port == "" {
		log.Info().Msg("service.Service.bootstrap no port configured, waiting for connect_to_port")
		return
	}
	attempts := max(s.cfg.ConnectAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		msg, err := s.ns.ConnectToPort(ctx, port)
		if err == nil {
			log.Info().Str("port", port).Int("attempt", attempt).Msg("service.Service.bootstrap " + msg)
			return
		}
		log.Warn().Str("port", port).Int("attempt", attempt).Int("attempts", attempts).Err(err).Msg("service.Service.bootstrap connect failed")
		if errors.Is(err, device.ErrValidation) || attempt == attempts {
			return
		}
		if err := waitBackoff(ctx, s.cfg.Backoff, attempt); err != nil {
			return
		}
	}
}

func (s *Service) serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.rpc.Serve(gctx, ln)
	})
	if s.http != nil {
		g.Go(func() error {
			return s.http.Serve(gctx)
		})
	}
	g.Go(func() error {
		s.heartbeat(gctx)
		return nil
	})
	err := g.Wait()
	log.Info().Err(err).Msg("service.Service.serve shutdown")
	return err
}

func (s *Service) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info := s.session.Info()
			log.Info().
				Str("state", info.State).
				Str("port", info.Port).
				Int("address", info.Address).
				Int("consecutive_failures", info.ConsecutiveFailures).
				Int64("rpc_clients", s.rpc.Clients()).
				Int64("guard_waiting", s.guard.Waiting()).
				Msg("service.Service.heartbeat")
		}
	}
}

// shutdown waits for the guard so an in-flight exchange finishes first.
func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Device.WithDefaults().QueryTimeout+time.Second)
	defer cancel()
	if err := s.ns.Disconnect(ctx); err != nil {
		log.Warn().Err(err).Msg("service.Service.shutdown guarded disconnect failed, forcing")
		_ = s.session.Disconnect()
	}
}

func waitBackoff(ctx context.Context, cfg BackoffConfig, attempt int) error {
	var rng *rand.Rand
	if cfg.Jitter {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	timer := time.NewTimer(NextBackoffDelay(cfg, attempt, rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
