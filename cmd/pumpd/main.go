package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/ionpump/internal/logging"
	"github.com/danmuck/ionpump/internal/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pumpd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		port       string
	)
	cmd := &cobra.Command{
		Use:           "pumpd",
		Short:         "Serve an ion pump controller over RPC and HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			cfg, err := resolveConfig(configPath, port, cmd.Flags().Changed("port"))
			if err != nil {
				return err
			}
			log.Info().
				Str("config", configPath).
				Str("port", cfg.Port).
				Str("rpc_addr", cfg.RPC.ListenAddr).
				Str("http_addr", cfg.HTTP.ListenAddr).
				Msg("pumpd starting")
			return service.New(cfg, nil).Run()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to pumpd TOML config")
	cmd.Flags().StringVarP(&port, "port", "p", "", "serial port to open at startup")
	cmd.AddCommand(newConfigCmd())
	return cmd
}

func resolveConfig(path, port string, portSet bool) (service.Config, error) {
	cfg := service.DefaultConfig()
	if strings.TrimSpace(path) != "" {
		loaded, err := loadServiceConfig(path)
		if err != nil {
			return service.Config{}, err
		}
		cfg = loaded
	}
	if portSet {
		cfg.Port = strings.TrimSpace(port)
	}
	if err := cfg.Validate(); err != nil {
		return service.Config{}, err
	}
	return cfg, nil
}
