package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowgo-dev/flowgo"
)

// Version is set via ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "flowgo",
		Short:        "flowgo runs effect-driven agent systems",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent system from a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return flowgo.Run(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", envOr("FLOWGO_CONFIG", "config/agents.yaml"), "agent configuration file")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := flowgo.NewConfigLoader(flowgo.OSFileReader{})
			config, err := loader.LoadConfig(configFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d agents, %d schedules\n",
				len(config.Agents), len(config.Schedules))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", envOr("FLOWGO_CONFIG", "config/agents.yaml"), "agent configuration file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the flowgo version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flowgo %s\n", Version)
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
