package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/ionpump/internal/rpc"
	"github.com/spf13/cobra"
)

func watchCmd(flags *globalFlags) *cobra.Command {
	var (
		interval time.Duration
		count    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll pump pressure until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := rpc.Dial(ctx, flags.server, flags.security())
			if err != nil {
				return fmt.Errorf("dial %s: %w", flags.server, err)
			}
			defer client.Close()
			return watchPressure(ctx, client, cmd.OutOrStdout(), interval, flags.timeout, count)
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "poll interval")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "stop after n readings (0 polls forever)")
	return cmd
}

// watchPressure prints one reading per tick. Failed reads are printed and
// polling continues, so a reconnect on the server side is picked up.
func watchPressure(ctx context.Context, api rpc.API, out io.Writer, interval, timeout time.Duration, count int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 0; count <= 0 || n < count; n++ {
		pollCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout > 0 {
			pollCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		p, err := api.GetPressure(pollCtx)
		cancel()
		stamp := time.Now().Format("15:04:05.000")
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "%s  error: %v\n", stamp, err)
		} else {
			fmt.Fprintf(out, "%s  %g\n", stamp, p)
		}

		if count > 0 && n+1 >= count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
