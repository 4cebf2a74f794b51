package device

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/danmuck/ionpump/internal/protocol"
	"github.com/tarm/serial"
)

// serialPort is the subset of *serial.Port the transport needs.
type serialPort interface {
	io.ReadWriteCloser
	Flush() error
}

// overridable in tests
var openSerialPort = func(cfg *serial.Config) (serialPort, error) {
	return serial.OpenPort(cfg)
}

// OpenSerial opens cfg.Name as an 8N1 serial line with '\r' framing.
// cfg.ReadTimeout bounds each blocking read so Close can stop a pending reader.
func OpenSerial(cfg PortConfig) (Transport, error) {
	port, err := openSerialPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, err
	}
	if err := port.Flush(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("flush %s: %w", cfg.Name, err)
	}
	return newSerialTransport(port, cfg.MaxLineBytes), nil
}

type serialTransport struct {
	port    serialPort
	maxLine int
	closed  atomic.Bool
	writeMu sync.Mutex

	// read side is owned by the single session reader goroutine
	pending []byte
	chunk   []byte
}

func newSerialTransport(port serialPort, maxLine int) *serialTransport {
	if maxLine <= 0 {
		maxLine = DefaultConfig().MaxLineBytes
	}
	return &serialTransport{
		port:    port,
		maxLine: maxLine,
		chunk:   make([]byte, 64),
	}
}

func (t *serialTransport) Write(p []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	for len(p) > 0 {
		if t.closed.Load() {
			return ErrTransportClosed
		}
		n, err := t.port.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

func (t *serialTransport) ReadUntilDelimiter() ([]byte, error) {
	for {
		if i := bytes.IndexByte(t.pending, protocol.Terminator); i >= 0 {
			line := make([]byte, i+1)
			copy(line, t.pending[:i+1])
			t.pending = append(t.pending[:0], t.pending[i+1:]...)
			return line, nil
		}
		if t.closed.Load() {
			return nil, ErrTransportClosed
		}

		n, err := t.port.Read(t.chunk)
		if n > 0 {
			t.pending = append(t.pending, t.chunk[:n]...)
			if len(t.pending) > t.maxLine && bytes.IndexByte(t.pending, protocol.Terminator) < 0 {
				t.pending = t.pending[:0]
				return nil, ErrLineTooLong
			}
		}
		if err != nil && !errors.Is(err, io.EOF) {
			if t.closed.Load() {
				return nil, ErrTransportClosed
			}
			return nil, err
		}
		// n == 0 with nil or EOF is an expired read timeout; poll again.
	}
}

func (t *serialTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	return t.port.Close()
}
