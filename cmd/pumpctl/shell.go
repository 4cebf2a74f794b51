package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/danmuck/ionpump/internal/rpc"
	"github.com/spf13/cobra"
)

func shellCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive pump console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			client, err := rpc.Dial(ctx, flags.server, flags.security())
			if err != nil {
				return fmt.Errorf("dial %s: %w", flags.server, err)
			}
			defer client.Close()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "pump> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			sh := &shell{api: client, out: rl.Stdout(), timeout: flags.timeout}
			sh.printHelp()
			for {
				line, err := rl.Readline()
				if err != nil {
					if err == readline.ErrInterrupt {
						continue
					}
					fmt.Fprintln(rl.Stdout(), "Exiting...")
					return nil
				}
				if sh.exec(ctx, line) {
					return nil
				}
			}
		},
	}
}

// shell interprets one console line at a time against api.
type shell struct {
	api     rpc.API
	out     io.Writer
	timeout time.Duration
}

// exec runs one line and reports whether the console should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "pressure", "p":
		s.reading(s.api.GetPressure(ctx))
	case "voltage", "v":
		s.reading(s.api.GetVoltage(ctx))
	case "current", "i":
		s.reading(s.api.GetCurrent(ctx))
	case "status", "st":
		s.text(s.api.GetStatus(ctx))
	case "on":
		s.text(s.api.TurnOn(ctx))
	case "off":
		s.text(s.api.TurnOff(ctx))
	case "connect", "c":
		if len(args) != 1 {
			fmt.Fprintln(s.out, "Usage: connect <port>")
			return false
		}
		s.text(s.api.ConnectToPort(ctx, args[0]))
	case "disconnect", "dc":
		if err := s.api.Disconnect(ctx); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(s.out, "disconnected")
	case "address", "addr":
		s.address(ctx, args)
	case "info":
		info, err := s.api.SessionInfo(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(s.out, "state=%s port=%q address=%d failures=%d\n",
			info.State, info.Port, info.Address, info.ConsecutiveFailures)
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (s *shell) address(ctx context.Context, args []string) {
	if len(args) == 0 {
		addr, err := s.api.GetPumpAddress(ctx)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(s.out, "%d\n", addr)
		return
	}
	addr, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(s.out, "Usage: address [0-99]")
		return
	}
	if err := s.api.SetPumpAddress(ctx, addr); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "address set to %d\n", addr)
}

func (s *shell) reading(v float64, err error) {
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "%g\n", v)
}

func (s *shell) text(v string, err error) {
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, v)
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, `
Commands:
  pressure, p          read pressure
  voltage, v           read voltage
  current, i           read current
  status, st           read supply status
  on | off             switch high voltage
  connect <port>       open serial port on the server
  disconnect, dc       close serial port
  address [n]          show or set pump address (0-99)
  info                 session state
  help, ?              this text
  quit, exit, q        leave the console`)
}
