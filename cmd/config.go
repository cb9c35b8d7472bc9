package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bnema/wayrt/internal/config"
	"github.com/bnema/wayrt/internal/logger"
	"github.com/bnema/wayrt/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage wayrt configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), ui.FormatHeader("Configuration", config.GetConfigPath()))
		fmt.Fprintln(cmd.OutOrStdout(), ui.KeyValues(settings(config.Get())))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetConfigPath())
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file with defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.GetConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				logger.Infof("Configuration file already exists at: %s", configPath)
				logger.Info("Use --force to overwrite")
				return nil
			}
		}

		if err := config.Save(); err != nil {
			return err
		}
		logger.Infof("Configuration initialized at: %s", configPath)
		return nil
	},
}

// settings flattens cfg into the keys a config file would use.
func settings(cfg *config.Config) [][2]string {
	out := [][2]string{
		{"display.socket_name", cfg.Display.SocketName},
		{"display.grace_window", cfg.Display.GraceWindow.String()},
		{"display.ping_interval", cfg.Display.PingInterval.String()},
		{"display.max_sessions", maxSessions(cfg.Display.MaxSessions)},
		{"output.enabled", strconv.FormatBool(cfg.Output.Enabled)},
		{"output.name", cfg.Output.Name},
		{"output.description", cfg.Output.Description},
		{"output.make", cfg.Output.Make},
		{"output.model", cfg.Output.Model},
		{"output.position", fmt.Sprintf("%d,%d", cfg.Output.X, cfg.Output.Y)},
		{"output.logical_size", fmt.Sprintf("%dx%d", cfg.Output.LogicalWidth, cfg.Output.LogicalHeight)},
		{"output.scale", scale(cfg.Output.Scale)},
	}
	for i, m := range cfg.Output.Modes {
		mode := fmt.Sprintf("%dx%d@%.3fHz", m.Width, m.Height, float64(m.Refresh)/1000)
		if m.Preferred {
			mode += " (preferred)"
		}
		out = append(out, [2]string{fmt.Sprintf("output.modes[%d]", i), mode})
	}
	return append(out,
		[2]string{"seat.name", cfg.Seat.Name},
		[2]string{"metrics.enabled", strconv.FormatBool(cfg.Metrics.Enabled)},
		[2]string{"metrics.address", cfg.Metrics.Address},
		[2]string{"logging.log_level", cfg.Logging.LogLevel},
	)
}

func scale(s int32) string {
	if s == 0 {
		return "derived"
	}
	return strconv.Itoa(int(s))
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().Bool("force", false, "Force overwrite existing configuration")

	rootCmd.AddCommand(configCmd)
}
