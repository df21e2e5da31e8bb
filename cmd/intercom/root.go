package main

import (
	"os"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when neither --config nor INTERCOM_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "intercom",
		Short:         "SIP door station control core",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running the bare binary serves, as the service unit expects.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(),
		"config file (env INTERCOM_CONFIG)")

	root.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
		tokenCmd(&configPath),
		digestCmd(),
		versionCmd(),
	)
	return root
}

// getConfigPath returns the configuration file path.
// Uses INTERCOM_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("INTERCOM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Register with the SIP server and serve until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), *configPath)
		},
	}
}
