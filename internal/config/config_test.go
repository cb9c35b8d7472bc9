package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTOML(t *testing.T, body string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wayrt.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	v := viper.New()
	v.SetConfigFile(path)
	SetDefaults(v)
	require.NoError(t, v.ReadInConfig())
	return Load(v)
}

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	c, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "wayland-rt-0", c.Display.SocketName)
	assert.Equal(t, 5*time.Second, c.Display.GraceWindow)
	assert.Equal(t, 10*time.Second, c.Display.PingInterval)
	assert.Equal(t, "seat0", c.Seat.Name)
	require.Len(t, c.Output.Modes, 1)
	assert.Equal(t, ModeConfig{Width: 1920, Height: 1080, Refresh: 60000, Preferred: true}, c.Output.Modes[0])
	assert.False(t, c.Metrics.Enabled)
}

func TestPartialFileMergesWithDefaults(t *testing.T) {
	c, err := loadTOML(t, `
[display]
grace_window = "2s"

[output]
name = "DP-1"
logical_width = 1280

[[output.modes]]
width = 2560
height = 1440
refresh = 144000
preferred = true

[[output.modes]]
width = 1920
height = 1080
refresh = 60000
`)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, c.Display.GraceWindow)
	assert.Equal(t, "wayland-rt-0", c.Display.SocketName, "untouched key keeps its default")
	assert.Equal(t, "DP-1", c.Output.Name)
	assert.Equal(t, "wayrt", c.Output.Make)
	assert.Equal(t, int32(1280), c.Output.LogicalWidth)
	require.Len(t, c.Output.Modes, 2)
	assert.Equal(t, int32(2560), c.Output.Modes[0].Width)
	assert.False(t, c.Output.Modes[1].Preferred)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "empty socket name",
			body:    "[display]\nsocket_name = \"\"\n",
			wantErr: "socket_name",
		},
		{
			name:    "relative socket path",
			body:    "[display]\nsocket_name = \"run/wayland-0\"\n",
			wantErr: "bare name or an absolute path",
		},
		{
			name:    "negative grace window",
			body:    "[display]\ngrace_window = \"-1s\"\n",
			wantErr: "grace_window",
		},
		{
			name:    "zero ping interval",
			body:    "[display]\nping_interval = \"0s\"\n",
			wantErr: "ping_interval",
		},
		{
			name:    "negative scale",
			body:    "[output]\nscale = -2\n",
			wantErr: "output.scale",
		},
		{
			name:    "empty mode",
			body:    "[[output.modes]]\nwidth = 0\nheight = 600\n",
			wantErr: "output.modes[0]",
		},
		{
			name:    "two preferred modes",
			body:    "[[output.modes]]\nwidth = 800\nheight = 600\npreferred = true\n[[output.modes]]\nwidth = 640\nheight = 480\npreferred = true\n",
			wantErr: "2 modes marked preferred",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadTOML(t, tt.body)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("initializes with defaults when no config exists", func(t *testing.T) {
		viper.Reset()
		SetConfigPath("")
		t.Setenv("HOME", t.TempDir())
		wd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(t.TempDir()))
		t.Cleanup(func() { _ = os.Chdir(wd) })

		require.NoError(t, Init())
		assert.Equal(t, "seat0", Get().Seat.Name)
	})

	t.Run("explicit path", func(t *testing.T) {
		viper.Reset()
		path := filepath.Join(t.TempDir(), "custom.toml")
		require.NoError(t, os.WriteFile(path, []byte("[seat]\nname = \"seat1\"\n"), 0o644))
		SetConfigPath(path)
		defer SetConfigPath("")

		require.NoError(t, Init())
		assert.Equal(t, "seat1", Get().Seat.Name)
		assert.Equal(t, path, GetConfigPath())
	})

	t.Run("missing explicit file falls back to defaults", func(t *testing.T) {
		viper.Reset()
		SetConfigPath(filepath.Join(t.TempDir(), "absent.toml"))
		defer SetConfigPath("")

		require.NoError(t, Init())
		assert.Equal(t, DefaultConfig.Display.SocketName, Get().Display.SocketName)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		viper.Reset()
		path := filepath.Join(t.TempDir(), "wayrt.toml")
		require.NoError(t, os.WriteFile(path, []byte("[metrics]\naddress = \"127.0.0.1:1\"\n"), 0o644))
		SetConfigPath(path)
		defer SetConfigPath("")
		t.Setenv("WAYRT_METRICS_ADDRESS", "127.0.0.1:2")

		require.NoError(t, Init())
		assert.Equal(t, "127.0.0.1:2", Get().Metrics.Address)
	})

	t.Run("handles invalid TOML", func(t *testing.T) {
		viper.Reset()
		path := filepath.Join(t.TempDir(), "wayrt.toml")
		require.NoError(t, os.WriteFile(path, []byte("[display\nsocket_name = 1"), 0o644))
		SetConfigPath(path)
		defer SetConfigPath("")

		assert.Error(t, Init())
	})
}

func TestSave(t *testing.T) {
	viper.Reset()
	path := filepath.Join(t.TempDir(), "nested", "wayrt.toml")
	SetConfigPath(path)
	defer SetConfigPath("")
	SetDefaults(viper.GetViper())
	viper.Set("seat.name", "seat9")

	require.NoError(t, Save())

	c, err := loadTOML(t, mustRead(t, path))
	require.NoError(t, err)
	assert.Equal(t, "seat9", c.Seat.Name)
	assert.Len(t, c.Output.Modes, 1)
}

func TestSocketPath(t *testing.T) {
	tests := []struct {
		name    string
		socket  string
		runtime string
		want    string
		wantErr bool
	}{
		{name: "bare name", socket: "wayland-rt-0", runtime: "/run/user/1000", want: "/run/user/1000/wayland-rt-0"},
		{name: "absolute", socket: "/tmp/wl.sock", runtime: "", want: "/tmp/wl.sock"},
		{name: "no runtime dir", socket: "wayland-rt-0", runtime: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("XDG_RUNTIME_DIR", tt.runtime)
			c := DefaultConfig
			c.Display.SocketName = tt.socket
			got, err := c.SocketPath()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}
