package rpc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/ionpump/internal/device"
	"github.com/danmuck/ionpump/internal/device/devicetest"
	"github.com/danmuck/ionpump/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectToPortConfirms(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, time.Second, devicetest.Pump(1, devicetest.DefaultReplies()))
	msg, err := f.ns.ConnectToPort(context.Background(), "COM3")
	require.NoError(t, err)
	require.Equal(t, "Connected to COM3", msg)

	info, err := f.ns.SessionInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "connected", info.State)
}

func TestNamespaceReadsThroughSession(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, time.Second, devicetest.Pump(1, devicetest.DefaultReplies()))
	ctx := context.Background()
	_, err := f.ns.ConnectToPort(ctx, "/dev/ttyUSB0")
	require.NoError(t, err)

	p, err := f.ns.GetPressure(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1.23e-5, p, 1e-12)
	v, err := f.ns.GetVoltage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, v)
	c, err := f.ns.GetCurrent(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 2.5e-6, c, 1e-15)
	st, err := f.ns.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", st)
	on, err := f.ns.TurnOn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "OK", on)
	off, err := f.ns.TurnOff(ctx)
	require.NoError(t, err)
	assert.Equal(t, "OK", off)
	require.False(t, f.guard.Held())
}

func TestSetPumpAddressRejectsOutOfRange(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, time.Second, devicetest.Silent())
	ctx := context.Background()
	for _, addr := range []int{-1, 100, 255} {
		err := f.ns.SetPumpAddress(ctx, addr)
		require.ErrorIs(t, err, device.ErrValidation)
		require.Equal(t, KindValidation, KindOf(err))
	}
	require.NoError(t, f.ns.SetPumpAddress(ctx, 99))
	addr, err := f.ns.GetPumpAddress(ctx)
	require.NoError(t, err)
	require.Equal(t, 99, addr)
	require.Empty(t, f.opener.Opened())
}

func TestCallsBeforeConnectReportNotConnected(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, time.Second, devicetest.Silent())
	_, err := f.ns.GetPressure(context.Background())
	require.ErrorIs(t, err, device.ErrNotConnected)
	require.Equal(t, KindNotConnected, KindOf(err))
	require.False(t, f.guard.Held())
}

func TestConcurrentCallsNeverInterleave(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, time.Second, devicetest.Pump(1, devicetest.DefaultReplies()))
	ctx := context.Background()
	_, err := f.ns.ConnectToPort(ctx, "/dev/ttyUSB0")
	require.NoError(t, err)
	tr := f.opener.Last()
	tr.SetReplyDelay(2 * time.Millisecond)

	const callers = 24
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			switch i % 4 {
			case 0:
				_, err = f.ns.GetPressure(ctx)
			case 1:
				_, err = f.ns.GetVoltage(ctx)
			case 2:
				_, err = f.ns.GetCurrent(ctx)
			default:
				_, err = f.ns.GetStatus(ctx)
			}
			if err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Zero(t, failures.Load())

	ex := tr.Exchanges()
	require.Len(t, ex, callers)
	for i := range ex {
		require.False(t, ex[i].ReplyAt.IsZero(), "exchange %d has no reply", i)
		require.False(t, ex[i].ReplyAt.Before(ex[i].WriteAt), "exchange %d replied before write", i)
		if i > 0 {
			require.False(t, ex[i].WriteAt.Before(ex[i-1].ReplyAt),
				"exchange %d written before exchange %d completed", i, i-1)
		}
	}
}

func TestTimeoutReleasesGuard(t *testing.T) {
	testlog.Start(t)
	var silent atomic.Bool
	silent.Store(true)
	pump := devicetest.Pump(1, devicetest.DefaultReplies())
	f := newFixture(t, 30*time.Millisecond, func(packet string) (string, bool) {
		if silent.Load() {
			return "", false
		}
		return pump(packet)
	})
	ctx := context.Background()
	_, err := f.ns.ConnectToPort(ctx, "/dev/ttyUSB0")
	require.NoError(t, err)

	_, err = f.ns.GetPressure(ctx)
	require.ErrorIs(t, err, device.ErrDeviceCommunication)
	require.Equal(t, KindCommunication, KindOf(err))
	require.False(t, f.guard.Held())

	silent.Store(false)
	done := make(chan error, 1)
	go func() {
		_, err := f.ns.GetVoltage(ctx)
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("second call blocked after timeout")
	}
}

func TestCancelWhileWaitingForGuard(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, time.Second, devicetest.Pump(1, devicetest.DefaultReplies()))
	h, err := f.guard.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.ns.GetPressure(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, KindCanceled, KindOf(err))
	require.Zero(t, f.guard.Waiting())

	h.Release()
	addr, err := f.ns.GetPumpAddress(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, addr)
}

func TestDisconnectThenNotConnected(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, time.Second, devicetest.Pump(1, devicetest.DefaultReplies()))
	ctx := context.Background()
	_, err := f.ns.ConnectToPort(ctx, "/dev/ttyUSB0")
	require.NoError(t, err)
	require.NoError(t, f.ns.Disconnect(ctx))
	require.NoError(t, f.ns.Disconnect(ctx))

	_, err = f.ns.TurnOn(ctx)
	require.ErrorIs(t, err, device.ErrNotConnected)
	require.Equal(t, 0, f.opener.Last().WriteCount())
}

func TestCancelMidExchangeKeepsPumpConnected(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t, time.Second, devicetest.Pump(1, devicetest.DefaultReplies()))
	_, err := f.ns.ConnectToPort(context.Background(), "/dev/ttyUSB0")
	require.NoError(t, err)
	f.opener.Last().SetReplyDelay(50 * time.Millisecond)

	limit := f.session.Config().MaxConsecutiveFailures
	for i := 0; i <= limit; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		_, err := f.ns.GetPressure(ctx)
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Equal(t, KindCanceled, KindOf(err))
		require.False(t, f.guard.Held())
	}

	info, err := f.ns.SessionInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "connected", info.State)
	require.Zero(t, info.ConsecutiveFailures)
}
