package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/ionpump/internal/device"
	"github.com/danmuck/ionpump/internal/guard"
	"github.com/danmuck/ionpump/internal/observability"
	"github.com/rs/zerolog/log"
)

// Namespace is the remotely callable pump API. Every method runs exactly one
// session operation while holding the guard, so exchanges never interleave.
type Namespace struct {
	guard *guard.Mutex[*device.Session]
}

func NewNamespace(m *guard.Mutex[*device.Session]) *Namespace {
	return &Namespace{guard: m}
}

func (n *Namespace) GetPressure(ctx context.Context) (float64, error) {
	return call(ctx, n, MethodGetPressure, (*device.Session).Pressure)
}

func (n *Namespace) GetVoltage(ctx context.Context) (float64, error) {
	return call(ctx, n, MethodGetVoltage, (*device.Session).Voltage)
}

func (n *Namespace) GetCurrent(ctx context.Context) (float64, error) {
	return call(ctx, n, MethodGetCurrent, (*device.Session).Current)
}

func (n *Namespace) GetStatus(ctx context.Context) (string, error) {
	return call(ctx, n, MethodGetStatus, (*device.Session).SupplyStatus)
}

func (n *Namespace) TurnOn(ctx context.Context) (string, error) {
	return call(ctx, n, MethodTurnOn, (*device.Session).TurnOn)
}

func (n *Namespace) TurnOff(ctx context.Context) (string, error) {
	return call(ctx, n, MethodTurnOff, (*device.Session).TurnOff)
}

// ConnectToPort opens port and returns "Connected to <port>".
func (n *Namespace) ConnectToPort(ctx context.Context, port string) (string, error) {
	return call(ctx, n, MethodConnectToPort, func(s *device.Session, ctx context.Context) (string, error) {
		if err := s.Connect(ctx, port); err != nil {
			return "", err
		}
		return fmt.Sprintf("Connected to %s", s.Info().Port), nil
	})
}

func (n *Namespace) Disconnect(ctx context.Context) error {
	_, err := call(ctx, n, MethodDisconnect, func(s *device.Session, _ context.Context) (struct{}, error) {
		return struct{}{}, s.Disconnect()
	})
	return err
}

func (n *Namespace) SetPumpAddress(ctx context.Context, addr int) error {
	_, err := call(ctx, n, MethodSetPumpAddress, func(s *device.Session, _ context.Context) (struct{}, error) {
		return struct{}{}, s.SetAddress(addr)
	})
	return err
}

func (n *Namespace) GetPumpAddress(ctx context.Context) (int, error) {
	return call(ctx, n, MethodGetPumpAddress, func(s *device.Session, _ context.Context) (int, error) {
		return s.Address(), nil
	})
}

func (n *Namespace) SessionInfo(ctx context.Context) (device.Info, error) {
	return call(ctx, n, MethodSessionInfo, func(s *device.Session, _ context.Context) (device.Info, error) {
		return s.Info(), nil
	})
}

// Snapshot reads session state without waiting for the guard, so status
// requests answer while an exchange is in flight.
func (n *Namespace) Snapshot() device.Info {
	return n.guard.Peek().Info()
}

// call holds the guard around op and records the outcome.
func call[R any](ctx context.Context, n *Namespace, method string, op func(*device.Session, context.Context) (R, error)) (R, error) {
	start := time.Now()
	observability.SetGuardWaiting(n.guard.Waiting() + 1)
	out, err := guard.Call(ctx, n.guard, func(ctx context.Context, s *device.Session) (R, error) {
		observability.SetGuardWaiting(n.guard.Waiting())
		return op(s, ctx)
	})
	observability.SetGuardWaiting(n.guard.Waiting())

	kind := KindOf(err)
	label := string(kind)
	if err == nil {
		label = "ok"
	}
	observability.RecordCall(method, label, time.Since(start))
	if err != nil {
		log.Debug().Str("method", method).Str("kind", string(kind)).Err(err).Msg("rpc.Namespace call failed")
	}
	return out, err
}
