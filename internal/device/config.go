package device

import (
	"time"

	"github.com/danmuck/ionpump/internal/protocol"
)

// Config carries the per-model constants handed to a Session at construction.
type Config struct {
	BaudRate               int           `validate:"gt=0"`
	QueryTimeout           time.Duration `validate:"gt=0"`
	DefaultAddress         int           `validate:"gte=0,lte=99"`
	MaxConsecutiveFailures int           `validate:"gte=1"`
	PollInterval           time.Duration `validate:"gt=0"`
	MaxLineBytes           int           `validate:"gte=16"`
}

// DefaultConfig returns controller defaults.
func DefaultConfig() Config {
	return Config{
		BaudRate:               115200,
		QueryTimeout:           2 * time.Second,
		DefaultAddress:         1,
		MaxConsecutiveFailures: 3,
		PollInterval:           100 * time.Millisecond,
		MaxLineBytes:           256,
	}
}

// WithDefaults fills zero fields from DefaultConfig. Address 0 is a valid
// pump address and is kept, so callers wanting address 1 start from
// DefaultConfig. An address outside 0-99 is replaced by the default.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.DefaultAddress < protocol.MinAddress || c.DefaultAddress > protocol.MaxAddress {
		c.DefaultAddress = d.DefaultAddress
	}
	if c.BaudRate <= 0 {
		c.BaudRate = d.BaudRate
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = d.QueryTimeout
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = d.MaxLineBytes
	}
	return c
}
