package rpc

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/ionpump/internal/device"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// API is the pump command surface shared by the local Namespace and a remote Client.
type API interface {
	GetPressure(ctx context.Context) (float64, error)
	GetVoltage(ctx context.Context) (float64, error)
	GetCurrent(ctx context.Context) (float64, error)
	GetStatus(ctx context.Context) (string, error)
	TurnOn(ctx context.Context) (string, error)
	TurnOff(ctx context.Context) (string, error)
	ConnectToPort(ctx context.Context, port string) (string, error)
	Disconnect(ctx context.Context) error
	SetPumpAddress(ctx context.Context, addr int) error
	GetPumpAddress(ctx context.Context) (int, error)
	SessionInfo(ctx context.Context) (device.Info, error)
}

var (
	_ API = (*Namespace)(nil)
	_ API = (*Client)(nil)
)

// Client calls a remote Server. It is safe for concurrent use; calls are
// correlated by request id.
type Client struct {
	conn    io.ReadWriteCloser
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan response
	err     error
	done    chan struct{}
	once    sync.Once
}

// Dial connects to a Server at addr using the client side of sec.
func Dial(ctx context.Context, addr string, sec Security) (*Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("rpc: server addr required")
	}
	if err := sec.ValidateClient(); err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	var (
		conn net.Conn
		err  error
	)
	if sec.TLS.Enabled {
		tlsCfg, cfgErr := sec.clientTLSConfig()
		if cfgErr != nil {
			return nil, cfgErr
		}
		td := &tls.Dialer{NetDialer: dialer, Config: tlsCfg}
		conn, err = td.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient starts a client over an established stream.
func NewClient(conn io.ReadWriteCloser) *Client {
	c := &Client{
		conn:    conn,
		pending: make(map[string]chan response),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) Close() error {
	c.fail(ErrClientClosed)
	return c.conn.Close()
}

func (c *Client) GetPressure(ctx context.Context) (float64, error) {
	var v float64
	err := c.call(ctx, MethodGetPressure, Params{}, &v)
	return v, err
}

func (c *Client) GetVoltage(ctx context.Context) (float64, error) {
	var v float64
	err := c.call(ctx, MethodGetVoltage, Params{}, &v)
	return v, err
}

func (c *Client) GetCurrent(ctx context.Context) (float64, error) {
	var v float64
	err := c.call(ctx, MethodGetCurrent, Params{}, &v)
	return v, err
}

func (c *Client) GetStatus(ctx context.Context) (string, error) {
	var v string
	err := c.call(ctx, MethodGetStatus, Params{}, &v)
	return v, err
}

func (c *Client) TurnOn(ctx context.Context) (string, error) {
	var v string
	err := c.call(ctx, MethodTurnOn, Params{}, &v)
	return v, err
}

func (c *Client) TurnOff(ctx context.Context) (string, error) {
	var v string
	err := c.call(ctx, MethodTurnOff, Params{}, &v)
	return v, err
}

func (c *Client) ConnectToPort(ctx context.Context, port string) (string, error) {
	var v string
	err := c.call(ctx, MethodConnectToPort, Params{Port: port}, &v)
	return v, err
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.call(ctx, MethodDisconnect, Params{}, nil)
}

func (c *Client) SetPumpAddress(ctx context.Context, addr int) error {
	return c.call(ctx, MethodSetPumpAddress, Params{Address: &addr}, nil)
}

func (c *Client) GetPumpAddress(ctx context.Context) (int, error) {
	var v int
	err := c.call(ctx, MethodGetPumpAddress, Params{}, &v)
	return v, err
}

func (c *Client) SessionInfo(ctx context.Context) (device.Info, error) {
	var v device.Info
	err := c.call(ctx, MethodSessionInfo, Params{}, &v)
	return v, err
}

// Call invokes method with raw params and decodes the result into out.
func (c *Client) Call(ctx context.Context, method string, params Params, out any) error {
	return c.call(ctx, method, params, out)
}

func (c *Client) call(ctx context.Context, method string, params Params, out any) error {
	id := uuid.NewString()
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := writeLine(c.conn, request{ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.fail(err)
		return fmt.Errorf("%w: %s: %w", ErrClientClosed, method, err)
	}

	select {
	case resp := <-ch:
		return decodeResponse(method, resp, out)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		// a reply delivered just before the stream closed still wins
		select {
		case resp := <-ch:
			return decodeResponse(method, resp, out)
		default:
		}
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		return err
	}
}

func decodeResponse(method string, resp response, out any) error {
	if !resp.OK {
		return &RemoteError{Method: method, Kind: resp.Kind, Message: resp.Error}
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("rpc: %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *Client) readLoop() {
	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			c.fail(err)
			return
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			log.Warn().Err(err).Msg("rpc.Client dropped malformed response")
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if !ok {
			log.Debug().Str("id", resp.ID).Str("kind", string(resp.Kind)).Str("error", resp.Error).Msg("rpc.Client response without caller")
			continue
		}
		ch <- resp
	}
}

func (c *Client) fail(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		if errors.Is(cause, ErrClientClosed) {
			c.err = ErrClientClosed
		} else {
			c.err = fmt.Errorf("%w: %w", ErrClientClosed, cause)
		}
		c.mu.Unlock()
		close(c.done)
	})
}
