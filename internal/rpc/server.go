package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ionpump/internal/observability"
	"github.com/rs/zerolog/log"
)

// ServerConfig configures the RPC listener.
type ServerConfig struct {
	ListenAddr      string        `validate:"required"`
	IdleTimeout     time.Duration `validate:"gte=0"`
	MaxRequestBytes int           `validate:"gte=0"`
	Security        Security
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:      "localhost:1234",
		IdleTimeout:     5 * time.Minute,
		MaxRequestBytes: 64 << 10,
		Security:        Security{Mode: SecurityModeDevelopment},
	}
}

// Server serves the Namespace over newline-delimited JSON streams. Requests
// on one stream are dispatched concurrently; the guard serializes device access.
type Server struct {
	ns      *Namespace
	cfg     ServerConfig
	clients atomic.Int64

	connsMu sync.Mutex
	conns   map[io.Closer]struct{}
}

func NewServer(ns *Namespace, cfg ServerConfig) *Server {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = DefaultServerConfig().MaxRequestBytes
	}
	return &Server{
		ns:    ns,
		cfg:   cfg,
		conns: make(map[io.Closer]struct{}),
	}
}

// Clients reports the number of open client streams.
func (s *Server) Clients() int64 {
	return s.clients.Load()
}

// ListenAndServe listens on cfg.ListenAddr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.cfg.Security.Listen(strings.TrimSpace(s.cfg.ListenAddr))
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Bool("tls", s.cfg.Security.TLS.Enabled).Msg("rpc.Server listening")
	return s.Serve(ctx, ln)
}

// Serve accepts client streams on ln until ctx ends or ln fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.ServeConn(ctx, conn)
	}
}

// ServeConn serves one client stream until EOF, a read error or ctx end.
// The stream is closed on return.
func (s *Server) ServeConn(ctx context.Context, conn io.ReadWriteCloser) {
	ctx, cancel := context.WithCancel(ctx)
	s.trackConn(conn)
	defer s.untrackConn(conn)
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	remote := remoteAddr(conn)
	active := s.clients.Add(1)
	observability.AddRPCClients(1)
	log.Info().Str("remote", remote).Int64("active_clients", active).Msg("rpc.Server client connected")
	defer func() {
		remaining := s.clients.Add(-1)
		observability.AddRPCClients(-1)
		log.Info().Str("remote", remote).Int64("active_clients", remaining).Msg("rpc.Server client disconnected")
	}()

	var (
		wg      sync.WaitGroup
		writeMu sync.Mutex
	)
	respond := func(resp response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := writeLine(conn, resp); err != nil {
			if ctx.Err() == nil {
				log.Warn().Str("remote", remote).Err(err).Msg("rpc.Server write failed")
			}
			// nobody is left to read the remaining answers
			cancel()
		}
	}

	reader := bufio.NewReader(conn)
	for {
		s.setReadDeadline(conn)
		line, err := readLine(reader, s.cfg.MaxRequestBytes)
		if errors.Is(err, ErrBadRequest) {
			respond(response{OK: false, Kind: KindBadRequest, Error: err.Error()})
			continue
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Warn().Str("remote", remote).Err(err).Msg("rpc.Server read failed")
			}
			break
		}
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			respond(response{OK: false, Kind: KindBadRequest, Error: fmt.Sprintf("%v: %v", ErrBadRequest, err)})
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			respond(s.handle(ctx, req))
		}()
	}
	// a half-closed client still gets an answer for every line it sent
	wg.Wait()
	cancel()
}

func (s *Server) handle(ctx context.Context, req request) response {
	data, err := s.dispatch(ctx, req)
	if err != nil {
		return response{ID: req.ID, OK: false, Kind: KindOf(err), Error: err.Error()}
	}
	resp := response{ID: req.ID, OK: true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return response{ID: req.ID, OK: false, Kind: KindInternal, Error: err.Error()}
		}
		resp.Data = raw
	}
	return resp
}

// dispatch maps one method name onto the Namespace.
func (s *Server) dispatch(ctx context.Context, req request) (any, error) {
	switch req.Method {
	case MethodGetPressure:
		return s.ns.GetPressure(ctx)
	case MethodGetVoltage:
		return s.ns.GetVoltage(ctx)
	case MethodGetCurrent:
		return s.ns.GetCurrent(ctx)
	case MethodGetStatus:
		return s.ns.GetStatus(ctx)
	case MethodTurnOn:
		return s.ns.TurnOn(ctx)
	case MethodTurnOff:
		return s.ns.TurnOff(ctx)
	case MethodConnectToPort:
		return s.ns.ConnectToPort(ctx, req.Params.Port)
	case MethodDisconnect:
		return nil, s.ns.Disconnect(ctx)
	case MethodSetPumpAddress:
		if req.Params.Address == nil {
			return nil, fmt.Errorf("%w: %s requires params.address", ErrBadRequest, req.Method)
		}
		if err := s.ns.SetPumpAddress(ctx, *req.Params.Address); err != nil {
			return nil, err
		}
		return *req.Params.Address, nil
	case MethodGetPumpAddress:
		return s.ns.GetPumpAddress(ctx)
	case MethodSessionInfo:
		return s.ns.SessionInfo(ctx)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, req.Method)
	}
}

// readLine returns one trimmed line. Oversized lines are consumed and
// reported as ErrBadRequest so the stream stays usable.
func readLine(r *bufio.Reader, max int) ([]byte, error) {
	var buf []byte
	over := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !over {
			buf = append(buf, chunk...)
			if len(buf) > max {
				over = true
				buf = nil
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return nil, err
		}
		if over {
			return nil, fmt.Errorf("%w: request exceeds %d bytes", ErrBadRequest, max)
		}
		return bytes.TrimSpace(buf), nil
	}
}

func (s *Server) setReadDeadline(conn io.ReadWriteCloser) {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	if nc, ok := conn.(net.Conn); ok {
		_ = nc.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
}

func remoteAddr(conn io.ReadWriteCloser) string {
	if nc, ok := conn.(net.Conn); ok && nc.RemoteAddr() != nil {
		return nc.RemoteAddr().String()
	}
	return "stream"
}

func (s *Server) trackConn(conn io.Closer) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn io.Closer) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

// closeAllConns unblocks every reader so ServeConn calls return.
func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
