// Package devicetest provides in-memory pump transports for tests.
package devicetest

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/danmuck/ionpump/internal/device"
	"github.com/danmuck/ionpump/internal/protocol"
)

var ErrClosed = errors.New("devicetest: transport closed")

// Responder maps one request packet to a reply. ok=false means the device stays silent.
type Responder func(packet string) (reply string, ok bool)

// Exchange records one packet and when its reply was handed to the reader.
type Exchange struct {
	Packet  string
	WriteAt time.Time
	ReplyAt time.Time
}

// Transport is a scripted pump. Replies are queued in write order.
type Transport struct {
	mu         sync.Mutex
	responder  Responder
	replyDelay time.Duration
	writeErr   error
	exchanges  []Exchange
	replied    int

	replies   chan []byte
	readErrs  chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func NewTransport(r Responder) *Transport {
	if r == nil {
		r = Silent()
	}
	return &Transport{
		responder: r,
		replies:   make(chan []byte, 64),
		readErrs:  make(chan error, 1),
		closed:    make(chan struct{}),
	}
}

// SetReplyDelay delays every later reply by d.
func (t *Transport) SetReplyDelay(d time.Duration) {
	t.mu.Lock()
	t.replyDelay = d
	t.mu.Unlock()
}

// SetWriteError makes every later Write fail with err.
func (t *Transport) SetWriteError(err error) {
	t.mu.Lock()
	t.writeErr = err
	t.mu.Unlock()
}

// FailRead makes the pending or next read fail with err.
func (t *Transport) FailRead(err error) {
	select {
	case t.readErrs <- err:
	default:
	}
}

func (t *Transport) Write(p []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	t.mu.Lock()
	if t.writeErr != nil {
		err := t.writeErr
		t.mu.Unlock()
		return err
	}
	packet := string(p)
	t.exchanges = append(t.exchanges, Exchange{Packet: packet, WriteAt: time.Now()})
	delay := t.replyDelay
	responder := t.responder
	t.mu.Unlock()

	reply, ok := responder(packet)
	if !ok {
		return nil
	}
	line := []byte(reply + string(protocol.Terminator))
	if delay <= 0 {
		t.replies <- line
		return nil
	}
	go func() {
		select {
		case <-time.After(delay):
			t.replies <- line
		case <-t.closed:
		}
	}()
	return nil
}

func (t *Transport) ReadUntilDelimiter() ([]byte, error) {
	select {
	case line := <-t.replies:
		t.mu.Lock()
		if t.replied < len(t.exchanges) {
			t.exchanges[t.replied].ReplyAt = time.Now()
		}
		t.replied++
		t.mu.Unlock()
		return line, nil
	case err := <-t.readErrs:
		return nil, err
	case <-t.closed:
		return nil, io.EOF
	}
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *Transport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Exchanges returns a copy of the recorded exchanges in write order.
func (t *Transport) Exchanges() []Exchange {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Exchange, len(t.exchanges))
	copy(out, t.exchanges)
	return out
}

func (t *Transport) WriteCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.exchanges)
}

// Opener hands out transports and records every open attempt.
type Opener struct {
	mu      sync.Mutex
	factory func(port string) *Transport
	err     error
	opened  []device.PortConfig
	last    *Transport
}

// NewOpener returns an opener that builds a fresh Transport per Connect.
func NewOpener(factory func(port string) *Transport) *Opener {
	return &Opener{factory: factory}
}

// SetError makes later opens fail with err.
func (o *Opener) SetError(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

func (o *Opener) Open(cfg device.PortConfig) (device.Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, cfg)
	if o.err != nil {
		return nil, o.err
	}
	o.last = o.factory(cfg.Name)
	return o.last, nil
}

// Last returns the most recently opened transport.
func (o *Opener) Last() *Transport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func (o *Opener) Opened() []device.PortConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]device.PortConfig, len(o.opened))
	copy(out, o.opened)
	return out
}
