package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const configTemplate = `# pumpd config; every key is optional and falls back to its default
heartbeat_interval = "30s"

[device]
port = "/dev/ttyUSB0"
connect_attempts = 3
baud_rate = 115200
query_timeout = "2s"
default_address = 1
max_consecutive_failures = 3

[backoff]
initial_delay = "500ms"
multiplier = 2.0
max_delay = "5s"
jitter = false

[rpc]
listen_addr = "localhost:1234"
security_mode = "development"

[rpc.tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""

[http]
listen_addr = "localhost:8080"
cors_origins = ["http://localhost:3000"]
shutdown_timeout = "5s"
# api_token = "change-me"
`

func writeConfigTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(configTemplate), 0o600)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check a pumpd config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a commented config template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := writeConfigTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Load and validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolveConfig(args[0], "", false); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
