package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bnema/wayrt/internal/config"
	"github.com/bnema/wayrt/internal/logger"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "wayrt",
		Short: "wayrt - headless Wayland protocol runtime",
		Long: `wayrt serves the core Wayland protocol objects on a Unix socket:
globals, surfaces, xdg-shell toplevels and popups, outputs and text input.
It holds no renderer and drives no hardware; it is meant for tests, CI and
protocol tooling that need a real compositor-side peer.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default is ~/.config/wayrt/wayrt.toml)")
}

// loadConfig reads the config file once flags are parsed, so bound flags
// take precedence over file values.
func loadConfig(cmd *cobra.Command, args []string) error {
	config.SetConfigPath(configPath)
	if err := config.Init(); err != nil {
		return err
	}
	if lvl := config.Get().Logging.LogLevel; lvl != "" {
		logger.SetLevel(lvl)
	}
	return nil
}
