package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "localhost:8080", cfg.Addr)
	require.Equal(t, "memory", cfg.Backend)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
addr: ":9000"
backend: bolt
dsn: /tmp/state.db
shutdown_timeout: 30s
`))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, "bolt", cfg.Backend)
	require.Equal(t, "/tmp/state.db", cfg.DSN)
	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("addr: \":7000\"\n"))
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Addr)
	require.Equal(t, "memory", cfg.Backend)
}

func TestEmptyFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, New(), cfg)
}

func TestUnknownKeysRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("adress: \":9000\"\n"))
	require.Error(t, err, "typoed keys must not be silently dropped")
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("REFLOW_ADDR", ":1234")
	t.Setenv("REFLOW_BACKEND", "bolt")
	t.Setenv("REFLOW_DSN", "x.db")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":1234", cfg.Addr)
	require.Equal(t, "bolt", cfg.Backend)
	require.Equal(t, "x.db", cfg.DSN)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"empty addr":       func(c *Config) { c.Addr = "" },
		"empty backend":    func(c *Config) { c.Backend = "" },
		"bolt without dsn": func(c *Config) { c.Backend = "bolt"; c.DSN = "" },
		"zero timeout":     func(c *Config) { c.ShutdownTimeout = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := New()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
