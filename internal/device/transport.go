package device

import "time"

// Transport is the byte link to the pump. Writes carry one complete packet;
// reads return one reply including its delimiter.
type Transport interface {
	Write(p []byte) error
	ReadUntilDelimiter() ([]byte, error)
	Close() error
}

// PortConfig describes the link a Session asks an OpenFunc for.
type PortConfig struct {
	Name         string
	BaudRate     int
	ReadTimeout  time.Duration
	MaxLineBytes int
}

// OpenFunc opens a Transport for one named port.
type OpenFunc func(cfg PortConfig) (Transport, error)
