// Package cli provides the command-line interface for vmhost.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/javanstorm/vmhost/internal/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "vmhost",
	Short: "vmhost - single-host VM orchestrator",
	Long: `vmhost starts, stops and tracks hyperkit virtual machines on one host.

Run "vmhost serve" to start the orchestrator, then drive it with the
start, stop, kill, list, address and available commands.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "version", "completion", "help":
			return nil
		}
		if configFile != "" {
			viper.SetConfigFile(configFile)
		}
		return config.Load()
	},
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: config.yaml in the data or config dir)")
	flags.String("address", "", "orchestrator address (default 127.0.0.1:7593)")
	flags.String("data-dir", "", "directory holding vms/, disks/ and kernel/")
	flags.String("log-level", "", "log level: debug, info, warn or error")

	cobra.CheckErr(viper.BindPFlag("listen_address", flags.Lookup("address")))
	cobra.CheckErr(viper.BindPFlag("data_dir", flags.Lookup("data-dir")))
	cobra.CheckErr(viper.BindPFlag("log_level", flags.Lookup("log-level")))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addressCmd)
	rootCmd.AddCommand(availableCmd)
}
