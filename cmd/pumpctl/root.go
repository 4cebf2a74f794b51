package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/ionpump/internal/logging"
	"github.com/danmuck/ionpump/internal/rpc"
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	server       string
	timeout      time.Duration
	output       string
	securityMode string
	tls          bool
	mtls         bool
	caFile       string
	certFile     string
	keyFile      string
	serverName   string
}

func (g *globalFlags) security() rpc.Security {
	return rpc.Security{
		Mode: rpc.SecurityMode(g.securityMode),
		TLS: rpc.TLSConfig{
			Enabled:    g.tls || g.mtls,
			Mutual:     g.mtls,
			CAFile:     strings.TrimSpace(g.caFile),
			CertFile:   strings.TrimSpace(g.certFile),
			KeyFile:    strings.TrimSpace(g.keyFile),
			ServerName: strings.TrimSpace(g.serverName),
		},
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "pumpctl",
		Short: "Ion pump control client",
		Long: `pumpctl talks to a running pumpd over its RPC stream.

Use "pumpctl [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.server, "server", "s", "localhost:1234", "pumpd RPC address")
	pf.DurationVar(&flags.timeout, "timeout", 10*time.Second, "per-command deadline")
	pf.StringVarP(&flags.output, "output", "o", "text", "output format (text|json)")
	pf.StringVar(&flags.securityMode, "security-mode", "development", "transport policy (development|production)")
	pf.BoolVar(&flags.tls, "tls", false, "dial with TLS")
	pf.BoolVar(&flags.mtls, "mtls", false, "dial with mutual TLS (implies --tls)")
	pf.StringVar(&flags.caFile, "tls-ca", "", "CA bundle for server verification")
	pf.StringVar(&flags.certFile, "tls-cert", "", "client certificate for mTLS")
	pf.StringVar(&flags.keyFile, "tls-key", "", "client key for mTLS")
	pf.StringVar(&flags.serverName, "tls-server-name", "", "expected server certificate name")

	root.AddCommand(
		readingCmd(flags, "pressure", "Read pump pressure", rpc.API.GetPressure),
		readingCmd(flags, "voltage", "Read pump voltage", rpc.API.GetVoltage),
		readingCmd(flags, "current", "Read pump current", rpc.API.GetCurrent),
		textCmd(flags, "status", "Read supply status", rpc.API.GetStatus),
		textCmd(flags, "on", "Turn the pump high voltage on", rpc.API.TurnOn),
		textCmd(flags, "off", "Turn the pump high voltage off", rpc.API.TurnOff),
		connectCmd(flags),
		disconnectCmd(flags),
		addressCmd(flags),
		infoCmd(flags),
		watchCmd(flags),
		shellCmd(flags),
	)
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

// withClient dials pumpd and runs fn under the command deadline.
func withClient(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, api rpc.API) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if flags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.timeout)
		defer cancel()
	}
	client, err := rpc.Dial(ctx, flags.server, flags.security())
	if err != nil {
		return fmt.Errorf("dial %s: %w", flags.server, err)
	}
	defer client.Close()
	return fn(ctx, client)
}

// printResult writes v as JSON under key, or as plain text.
func printResult(w io.Writer, flags *globalFlags, key string, v any) error {
	if flags.output == "json" {
		enc := json.NewEncoder(w)
		return enc.Encode(map[string]any{key: v})
	}
	switch val := v.(type) {
	case float64:
		_, err := fmt.Fprintf(w, "%g\n", val)
		return err
	default:
		_, err := fmt.Fprintf(w, "%v\n", val)
		return err
	}
}
