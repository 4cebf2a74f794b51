package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/danmuck/ionpump/internal/rpc"
	"github.com/spf13/cobra"
)

func readingCmd(flags *globalFlags, use, short string, read func(rpc.API, context.Context) (float64, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(ctx context.Context, api rpc.API) error {
				v, err := read(api, ctx)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), flags, "value", v)
			})
		},
	}
}

func textCmd(flags *globalFlags, use, short string, run func(rpc.API, context.Context) (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(ctx context.Context, api rpc.API) error {
				reply, err := run(api, ctx)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), flags, "reply", reply)
			})
		},
	}
}

func connectCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <port>",
		Short: "Open the serial port on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(ctx context.Context, api rpc.API) error {
				msg, err := api.ConnectToPort(ctx, args[0])
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), flags, "message", msg)
			})
		},
	}
}

func disconnectCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Close the serial port on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(ctx context.Context, api rpc.API) error {
				if err := api.Disconnect(ctx); err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), flags, "status", "disconnected")
			})
		},
	}
}

func addressCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Show the pump address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(ctx context.Context, api rpc.API) error {
				addr, err := api.GetPumpAddress(ctx)
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), flags, "address", addr)
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <0-99>",
		Short: "Change the pump address used for every packet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("address must be an integer: %w", err)
			}
			return withClient(cmd, flags, func(ctx context.Context, api rpc.API) error {
				if err := api.SetPumpAddress(ctx, addr); err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), flags, "address", addr)
			})
		},
	})
	return cmd
}

func infoCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the server session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(ctx context.Context, api rpc.API) error {
				info, err := api.SessionInfo(ctx)
				if err != nil {
					return err
				}
				if flags.output == "json" {
					return printResult(cmd.OutOrStdout(), flags, "session", info)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "state:    %s\n", info.State)
				fmt.Fprintf(out, "port:     %s\n", info.Port)
				fmt.Fprintf(out, "address:  %d\n", info.Address)
				fmt.Fprintf(out, "failures: %d\n", info.ConsecutiveFailures)
				if !info.ConnectedAt.IsZero() {
					fmt.Fprintf(out, "since:    %s\n", info.ConnectedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
}
