package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ionpump/internal/rpc"
	"github.com/danmuck/ionpump/internal/service"
)

// pumpd config.toml key mapping to service runtime settings.
type fileConfig struct {
	Heartbeat string        `toml:"heartbeat_interval"`
	Device    deviceSection `toml:"device"`
	Backoff   backoffConfig `toml:"backoff"`
	RPC       rpcSection    `toml:"rpc"`
	HTTP      httpSection   `toml:"http"`
}

type deviceSection struct {
	Port                   string `toml:"port"`
	ConnectAttempts        int    `toml:"connect_attempts"`
	BaudRate               int    `toml:"baud_rate"`
	QueryTimeout           string `toml:"query_timeout"`
	DefaultAddress         int    `toml:"default_address"`
	MaxConsecutiveFailures int    `toml:"max_consecutive_failures"`
	PollInterval           string `toml:"poll_interval"`
	MaxLineBytes           int    `toml:"max_line_bytes"`
}

type backoffConfig struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type rpcSection struct {
	ListenAddr      string     `toml:"listen_addr"`
	IdleTimeout     string     `toml:"idle_timeout"`
	MaxRequestBytes int        `toml:"max_request_bytes"`
	SecurityMode    string     `toml:"security_mode"`
	TLS             tlsSection `toml:"tls"`
}

type tlsSection struct {
	Enabled    bool   `toml:"enabled"`
	Mutual     bool   `toml:"mutual"`
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	CAFile     string `toml:"ca_file"`
	ServerName string `toml:"server_name"`
}

type httpSection struct {
	ListenAddr      string   `toml:"listen_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
	APIToken        string   `toml:"api_token"`
}

// loadServiceConfig overlays keys present in path onto service defaults.
func loadServiceConfig(path string) (service.Config, error) {
	cfg := service.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return service.Config{}, fmt.Errorf("load pumpd config: %w", err)
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"heartbeat_interval"}, raw.Heartbeat, &cfg.HeartbeatInterval},
		{[]string{"device", "query_timeout"}, raw.Device.QueryTimeout, &cfg.Device.QueryTimeout},
		{[]string{"device", "poll_interval"}, raw.Device.PollInterval, &cfg.Device.PollInterval},
		{[]string{"backoff", "initial_delay"}, raw.Backoff.InitialDelay, &cfg.Backoff.InitialDelay},
		{[]string{"backoff", "max_delay"}, raw.Backoff.MaxDelay, &cfg.Backoff.MaxDelay},
		{[]string{"rpc", "idle_timeout"}, raw.RPC.IdleTimeout, &cfg.RPC.IdleTimeout},
		{[]string{"http", "shutdown_timeout"}, raw.HTTP.ShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return service.Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}

	if meta.IsDefined("device", "port") {
		cfg.Port = strings.TrimSpace(raw.Device.Port)
	}
	if meta.IsDefined("device", "connect_attempts") {
		cfg.ConnectAttempts = raw.Device.ConnectAttempts
	}
	if meta.IsDefined("device", "baud_rate") {
		cfg.Device.BaudRate = raw.Device.BaudRate
	}
	if meta.IsDefined("device", "default_address") {
		cfg.Device.DefaultAddress = raw.Device.DefaultAddress
	}
	if meta.IsDefined("device", "max_consecutive_failures") {
		cfg.Device.MaxConsecutiveFailures = raw.Device.MaxConsecutiveFailures
	}
	if meta.IsDefined("device", "max_line_bytes") {
		cfg.Device.MaxLineBytes = raw.Device.MaxLineBytes
	}

	if meta.IsDefined("backoff", "multiplier") {
		cfg.Backoff.Multiplier = raw.Backoff.Multiplier
	}
	if meta.IsDefined("backoff", "jitter") {
		cfg.Backoff.Jitter = raw.Backoff.Jitter
	}

	if meta.IsDefined("rpc", "listen_addr") {
		cfg.RPC.ListenAddr = strings.TrimSpace(raw.RPC.ListenAddr)
	}
	if meta.IsDefined("rpc", "max_request_bytes") {
		cfg.RPC.MaxRequestBytes = raw.RPC.MaxRequestBytes
	}
	if meta.IsDefined("rpc", "security_mode") {
		cfg.RPC.Security.Mode = rpc.SecurityMode(strings.TrimSpace(raw.RPC.SecurityMode))
	}
	if meta.IsDefined("rpc", "tls") {
		cfg.RPC.Security.TLS = rpc.TLSConfig{
			Enabled:    raw.RPC.TLS.Enabled,
			Mutual:     raw.RPC.TLS.Mutual,
			CertFile:   strings.TrimSpace(raw.RPC.TLS.CertFile),
			KeyFile:    strings.TrimSpace(raw.RPC.TLS.KeyFile),
			CAFile:     strings.TrimSpace(raw.RPC.TLS.CAFile),
			ServerName: strings.TrimSpace(raw.RPC.TLS.ServerName),
		}
	}

	if meta.IsDefined("http", "listen_addr") {
		cfg.HTTP.ListenAddr = strings.TrimSpace(raw.HTTP.ListenAddr)
	}
	if meta.IsDefined("http", "cors_origins") {
		cfg.HTTP.CORSOrigins = normalizeOrigins(raw.HTTP.CORSOrigins)
	}
	if meta.IsDefined("http", "api_token") {
		cfg.HTTP.APIToken = strings.TrimSpace(raw.HTTP.APIToken)
	}

	return cfg, nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
