package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wayrt/internal/app"
	"github.com/bnema/wayrt/internal/config"
)

// executeCommand runs root with args and returns what it printed.
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// resetFlag restores a flag so later commands in the same process do not
// see the value.
func resetFlag(t *testing.T, cmd *cobra.Command, name string) {
	t.Helper()
	t.Cleanup(func() {
		f := cmd.Flags().Lookup(name)
		require.NotNil(t, f)
		require.NoError(t, f.Value.Set(f.DefValue))
		f.Changed = false
	})
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayrt.toml")

	t.Run("creates config file when it doesn't exist", func(t *testing.T) {
		_, err := executeCommand(rootCmd, "config", "init", "--config", path)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "socket_name")
	})

	marker := []byte("[seat]\nname = \"marker\"\n")
	require.NoError(t, os.WriteFile(path, marker, 0o644))

	t.Run("doesn't overwrite existing config without force", func(t *testing.T) {
		_, err := executeCommand(rootCmd, "config", "init", "--config", path)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, marker, data)
	})

	t.Run("overwrites with force flag", func(t *testing.T) {
		resetFlag(t, configInitCmd, "force")
		_, err := executeCommand(rootCmd, "config", "init", "--config", path, "--force")
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "socket_name")
		assert.Contains(t, string(data), "marker", "values read from the old file are kept")
	})
}

func TestConfigShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayrt.toml")
	require.NoError(t, os.WriteFile(path, []byte("[display]\nsocket_name = \"wl-custom\"\n\n[seat]\nname = \"seat-test\"\n"), 0o644))

	out, err := executeCommand(rootCmd, "config", "show", "--config", path)
	require.NoError(t, err)
	for _, want := range []string{path, "wl-custom", "seat-test", "1920x1080@60.000Hz (preferred)", "derived"} {
		assert.Contains(t, out, want)
	}

	out, err = executeCommand(rootCmd, "config", "path", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
}

func TestSettings(t *testing.T) {
	cfg := config.DefaultConfig
	cfg.Output.Scale = 2
	cfg.Display.MaxSessions = 4

	got := make(map[string]string)
	for _, kv := range settings(&cfg) {
		got[kv[0]] = kv[1]
	}

	tests := []struct {
		key  string
		want string
	}{
		{key: "display.socket_name", want: "wayland-rt-0"},
		{key: "display.ping_interval", want: "10s"},
		{key: "display.max_sessions", want: "4"},
		{key: "output.scale", want: "2"},
		{key: "output.logical_size", want: "1920x1080"},
		{key: "output.modes[0]", want: "1920x1080@60.000Hz (preferred)"},
		{key: "seat.name", want: "seat0"},
		{key: "metrics.enabled", want: "false"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, got[tt.key])
		})
	}
}

func TestServeFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayrt.toml")
	require.NoError(t, os.WriteFile(path, []byte("[display]\nping_interval = \"3s\"\n"), 0o644))
	resetFlag(t, serveCmd, "ping-interval")

	_, err := executeCommand(rootCmd, "serve", "--config", path, "--ping-interval", "0s")
	require.Error(t, err, "flag value is validated before serving")
	assert.Contains(t, err.Error(), "ping_interval")
}

func TestStartupSummary(t *testing.T) {
	cfg := config.DefaultConfig
	cfg.Display.SocketName = filepath.Join(t.TempDir(), "wl-0")
	cfg.Display.PingInterval = 2 * time.Second
	a, err := app.New(&cfg)
	require.NoError(t, err)

	out := startupSummary(&cfg, a, cfg.Display.SocketName)
	for _, want := range []string{cfg.Display.SocketName, "seat0", "HEADLESS-1", "6s", "unlimited", "wl_compositor", "xdg_wm_base", "zwp_text_input_manager_v3"} {
		assert.Contains(t, out, want)
	}
}

func TestVersion(t *testing.T) {
	out, err := executeCommand(rootCmd, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "wayrt "+Version)
	assert.Contains(t, out, "commit: "+Commit)
}
