package rpc

import (
	"testing"
	"time"

	"github.com/danmuck/ionpump/internal/device"
	"github.com/danmuck/ionpump/internal/device/devicetest"
	"github.com/danmuck/ionpump/internal/guard"
)

type fixture struct {
	ns      *Namespace
	guard   *guard.Mutex[*device.Session]
	session *device.Session
	opener  *devicetest.Opener
}

func newFixture(t *testing.T, timeout time.Duration, r devicetest.Responder) *fixture {
	t.Helper()
	cfg := device.DefaultConfig()
	cfg.QueryTimeout = timeout
	opener := devicetest.NewOpener(func(string) *devicetest.Transport {
		return devicetest.NewTransport(r)
	})
	s := device.NewSession(cfg, opener.Open)
	t.Cleanup(func() { _ = s.Disconnect() })
	m := guard.New(s)
	return &fixture{ns: NewNamespace(m), guard: m, session: s, opener: opener}
}
