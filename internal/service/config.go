package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/ionpump/internal/device"
	"github.com/danmuck/ionpump/internal/httpapi"
	"github.com/danmuck/ionpump/internal/rpc"
	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("service: invalid heartbeat interval")
	ErrInvalidConfig            = errors.New("service: invalid config")
)

// Config is the full pumpd runtime configuration.
type Config struct {
	// Port is opened at startup when set. Otherwise the pump stays
	// disconnected until a client calls connect_to_port.
	Port              string
	ConnectAttempts   int `validate:"gte=1"`
	Backoff           BackoffConfig
	Device            device.Config
	RPC               rpc.ServerConfig
	HTTP              httpapi.Config
	HeartbeatInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectAttempts: 3,
		Backoff: BackoffConfig{
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
		},
		Device:            device.DefaultConfig(),
		RPC:               rpc.DefaultServerConfig(),
		HTTP:              httpapi.DefaultConfig(),
		HeartbeatInterval: 30 * time.Second,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field bounds and the RPC transport policy.
func (c Config) Validate() error {
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s=%s)", fe.Namespace(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return c.RPC.Security.ValidateServer()
}
