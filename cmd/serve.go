package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bnema/wayrt/internal/app"
	"github.com/bnema/wayrt/internal/config"
	"github.com/bnema/wayrt/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a display on a Unix socket",
	Long: `Serve a display on $XDG_RUNTIME_DIR/<socket> until interrupted.
Every flag overrides the matching config file key.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("socket", "s", "", "Socket name under XDG_RUNTIME_DIR, or an absolute path")
	f.Int("max-sessions", 0, "Reject peers beyond this many sessions (0 = unlimited)")
	f.Duration("ping-interval", 0, "Liveness escalation interval")
	f.Duration("grace-window", 0, "How long a removed global still accepts binds")
	f.Bool("metrics", false, "Serve Prometheus metrics and debug endpoints")
	f.String("metrics-addr", "", "Metrics listen address")
	f.String("seat", "", "Seat name")

	// Bind flags to viper
	viper.BindPFlag("display.socket_name", f.Lookup("socket"))
	viper.BindPFlag("display.max_sessions", f.Lookup("max-sessions"))
	viper.BindPFlag("display.ping_interval", f.Lookup("ping-interval"))
	viper.BindPFlag("display.grace_window", f.Lookup("grace-window"))
	viper.BindPFlag("metrics.enabled", f.Lookup("metrics"))
	viper.BindPFlag("metrics.address", f.Lookup("metrics-addr"))
	viper.BindPFlag("seat.name", f.Lookup("seat"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	a, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	path, err := cfg.SocketPath()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), startupSummary(cfg, a, path))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

// startupSummary renders what the server is about to publish.
func startupSummary(cfg *config.Config, a *app.App, path string) string {
	metrics := ui.FormatEnabled(cfg.Metrics.Enabled)
	if cfg.Metrics.Enabled {
		metrics += " " + ui.SubtleStyle.Render(cfg.Metrics.Address)
	}
	out := ui.FormatHeader("wayrt", path) + "\n"
	out += ui.KeyValues([][2]string{
		{"seat", cfg.Seat.Name},
		{"output", cfg.Output.Name + " " + ui.FormatEnabled(cfg.Output.Enabled)},
		{"ping interval", a.PingInterval().String()},
		{"max sessions", maxSessions(cfg.Display.MaxSessions)},
		{"metrics", metrics},
	}) + "\n"

	globals := a.Display.Globals()
	rows := make([][]string, 0, len(globals))
	for _, g := range globals {
		iface := g.Interface()
		rows = append(rows, []string{iface.Name, strconv.FormatUint(uint64(iface.Version), 10), strconv.FormatUint(uint64(g.Name()), 10)})
	}
	return out + ui.Table([]string{"INTERFACE", "VERSION", "NAME"}, rows)
}

func maxSessions(n int) string {
	if n == 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}
