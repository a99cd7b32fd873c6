package main

import (
	"github.com/spf13/cobra"

	"github.com/seantiz/dsplatform/internal/config"
)

var (
	cfgFile string

	// settings holds defaults, PLATFORM_* environment bindings and the flags
	// bound below.
	settings = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "platformd",
	Short: "Experiment orchestration server for the distributed system platform",
	Long: `platformd launches and tears down short-lived experiment containers:
k6 traffic generators and pumba network-delay injectors.

Configuration is read from flags, PLATFORM_* environment variables and an
optional platform.yaml, in that order of precedence.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./platform.yaml or /etc/platformd/platform.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	_ = settings.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
