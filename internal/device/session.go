package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/ionpump/internal/observability"
	"github.com/danmuck/ionpump/internal/protocol"
	"github.com/rs/zerolog/log"
)

// State is the session connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Info is a point-in-time view of the session.
type Info struct {
	State               string    `json:"state"`
	Port                string    `json:"port,omitempty"`
	Address             int       `json:"address"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	ConnectedAt         time.Time `json:"connected_at,omitzero"`
}

// Session owns the pump transport and its connection state.
type Session struct {
	cfg  Config
	open OpenFunc

	mu          sync.Mutex
	state       State
	port        string
	address     int
	link        *link
	failures    int
	connectedAt time.Time
}

// NewSession builds a disconnected session. open is used by Connect.
func NewSession(cfg Config, open OpenFunc) *Session {
	if cfg.DefaultAddress < protocol.MinAddress || cfg.DefaultAddress > protocol.MaxAddress {
		log.Warn().
			Int("address", cfg.DefaultAddress).
			Int("fallback", DefaultConfig().DefaultAddress).
			Msg("device.NewSession default address out of range")
	}
	cfg = cfg.WithDefaults()
	if open == nil {
		open = OpenSerial
	}
	return &Session{
		cfg:     cfg,
		open:    open,
		state:   StateDisconnected,
		address: cfg.DefaultAddress,
	}
}

// Config returns the constants the session was built with.
func (s *Session) Config() Config {
	return s.cfg
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		State:               s.state.String(),
		Port:                s.port,
		Address:             s.address,
		ConsecutiveFailures: s.failures,
		ConnectedAt:         s.connectedAt,
	}
}

// Address returns the pump address used for every packet.
func (s *Session) Address() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// SetAddress changes the pump address. Valid range is 0-99.
func (s *Session) SetAddress(addr int) error {
	if addr < protocol.MinAddress || addr > protocol.MaxAddress {
		return fmt.Errorf("%w: pump address %d outside %d-%d",
			ErrValidation, addr, protocol.MinAddress, protocol.MaxAddress)
	}
	s.mu.Lock()
	s.address = addr
	s.mu.Unlock()
	log.Info().Int("address", addr).Msg("device.Session.SetAddress")
	return nil
}

// Connect opens port and moves to connected. A held transport is closed first.
// On failure the session is disconnected and the error wraps ErrConnection and
// the I/O cause.
func (s *Session) Connect(ctx context.Context, port string) error {
	port = strings.TrimSpace(port)
	if port == "" {
		return fmt.Errorf("%w: empty port identifier", ErrValidation)
	}

	s.mu.Lock()
	if s.link != nil {
		log.Info().Str("port", s.port).Str("next_port", port).Msg("device.Session.Connect replacing transport")
		_ = s.closeLocked()
	}
	s.state = StateConnecting
	s.mu.Unlock()

	t, err := s.open(PortConfig{
		Name:         port,
		BaudRate:     s.cfg.BaudRate,
		ReadTimeout:  s.cfg.PollInterval,
		MaxLineBytes: s.cfg.MaxLineBytes,
	})
	if err == nil && t == nil {
		err = fmt.Errorf("opener returned no transport")
	}
	if err == nil && ctx.Err() != nil {
		_ = t.Close()
		err = ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateDisconnected
		log.Warn().Str("port", port).Err(err).Msg("device.Session.Connect failed")
		return fmt.Errorf("%w: open %s: %w", ErrConnection, port, err)
	}

	s.link = newLink(t)
	s.port = port
	s.state = StateConnected
	s.failures = 0
	s.connectedAt = time.Now()
	go s.link.readLoop()
	observability.SetDeviceConnected(true)
	log.Info().Str("port", port).Int("baud", s.cfg.BaudRate).Msg("device.Session.Connect connected")
	return nil
}

// Disconnect releases the transport. It is a no-op when already disconnected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		s.state = StateDisconnected
		return nil
	}
	port := s.port
	err := s.closeLocked()
	log.Info().Str("port", port).Msg("device.Session.Disconnect")
	return err
}

// Query performs one exchange: build the packet for cmd, write it, and wait
// for one framed reply. The returned text is undecoded.
func (s *Session) Query(ctx context.Context, cmd protocol.CommandCode) (string, error) {
	s.mu.Lock()
	l := s.link
	addr := s.address
	connected := s.state == StateConnected && l != nil
	s.mu.Unlock()
	if !connected {
		return "", fmt.Errorf("%w: %s", ErrNotConnected, cmd.Name())
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrDeviceCommunication, cmd.Name(), err)
	}

	if err := l.drain(); err != nil {
		s.fault(l, cmd, err)
		return "", fmt.Errorf("%w: %s: %w", ErrDeviceCommunication, cmd.Name(), err)
	}

	packet := protocol.BuildCommand(addr, cmd)
	start := time.Now()
	log.Debug().Str("cmd", cmd.Name()).Str("packet", strconv.Quote(packet)).Msg("device.Session.Query write")
	if err := l.transport.Write([]byte(packet)); err != nil {
		observability.RecordExchange(cmd.Name(), "write_error", time.Since(start))
		s.fault(l, cmd, err)
		return "", fmt.Errorf("%w: write %s: %w", ErrDeviceCommunication, cmd.Name(), err)
	}

	timer := time.NewTimer(s.cfg.QueryTimeout)
	defer timer.Stop()

	select {
	case res := <-l.lines:
		if res.err != nil {
			observability.RecordExchange(cmd.Name(), "read_error", time.Since(start))
			s.fault(l, cmd, res.err)
			return "", fmt.Errorf("%w: read %s: %w", ErrDeviceCommunication, cmd.Name(), res.err)
		}
		observability.RecordExchange(cmd.Name(), "ok", time.Since(start))
		s.resetFailures(l)
		reply := string(res.line)
		log.Debug().Str("cmd", cmd.Name()).Str("reply", strconv.Quote(reply)).Dur("took", time.Since(start)).Msg("device.Session.Query reply")
		return reply, nil
	case <-timer.C:
		observability.RecordExchange(cmd.Name(), "timeout", time.Since(start))
		s.miss(l, cmd)
		return "", fmt.Errorf("%w: %s: %w after %s", ErrDeviceCommunication, cmd.Name(), ErrTimeout, s.cfg.QueryTimeout)
	case <-ctx.Done():
		// the caller gave up, not the pump; a late reply is drained by the next query
		observability.RecordExchange(cmd.Name(), "canceled", time.Since(start))
		log.Debug().Str("cmd", cmd.Name()).Err(ctx.Err()).Msg("device.Session.Query canceled by caller")
		return "", fmt.Errorf("%w: %s: %w", ErrDeviceCommunication, cmd.Name(), ctx.Err())
	case <-l.done:
		observability.RecordExchange(cmd.Name(), "closed", time.Since(start))
		return "", fmt.Errorf("%w: %s: %w", ErrDeviceCommunication, cmd.Name(), ErrTransportClosed)
	}
}

// fault drops the link after an unrecoverable transport error.
func (s *Session) fault(l *link, cmd protocol.CommandCode, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != l {
		return
	}
	log.Warn().Str("port", s.port).Str("cmd", cmd.Name()).Err(cause).Msg("device.Session transport fault, disconnecting")
	_ = s.closeLocked()
}

// miss counts an exchange the pump left unanswered past QueryTimeout and
// disconnects once the limit is reached.
func (s *Session) miss(l *link, cmd protocol.CommandCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != l {
		return
	}
	s.failures++
	log.Warn().
		Str("port", s.port).
		Str("cmd", cmd.Name()).
		Int("consecutive_failures", s.failures).
		Int("limit", s.cfg.MaxConsecutiveFailures).
		Msg("device.Session exchange unanswered")
	if s.failures >= s.cfg.MaxConsecutiveFailures {
		log.Warn().Str("port", s.port).Msg("device.Session failure limit reached, disconnecting")
		_ = s.closeLocked()
	}
}

func (s *Session) resetFailures(l *link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == l {
		s.failures = 0
	}
}

func (s *Session) closeLocked() error {
	l := s.link
	s.link = nil
	s.state = StateDisconnected
	s.port = ""
	s.connectedAt = time.Time{}
	observability.SetDeviceConnected(false)
	if l == nil {
		return nil
	}
	return l.close()
}

type lineResult struct {
	line []byte
	err  error
}

// link is one open transport plus its reader goroutine.
type link struct {
	transport Transport
	lines     chan lineResult
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newLink(t Transport) *link {
	return &link{
		transport: t,
		lines:     make(chan lineResult, 1),
		done:      make(chan struct{}),
	}
}

func (l *link) readLoop() {
	for {
		line, err := l.transport.ReadUntilDelimiter()
		select {
		case l.lines <- lineResult{line: line, err: err}:
		case <-l.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// drain discards replies left over from abandoned exchanges.
func (l *link) drain() error {
	for {
		select {
		case res := <-l.lines:
			if res.err != nil {
				return res.err
			}
			log.Debug().Str("reply", strconv.Quote(string(res.line))).Msg("device.Session dropped stale reply")
		default:
			return nil
		}
	}
}

func (l *link) close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeErr = l.transport.Close()
	})
	return l.closeErr
}
