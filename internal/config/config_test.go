package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test from an empty directory so Load only sees the
// configs written by the test.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ENV", "nowhere")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "nowhere", cfg.Env)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "X-Session-ID", cfg.Session.Header)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "memory", cfg.Session.Store)
	assert.Equal(t, "admin", cfg.Auth.AdminUsername)
	assert.Equal(t, 30, cfg.Auth.LoginRatePerMinute)
	assert.False(t, cfg.Auth.ResetAdminPassword)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "configs"), 0o755))
	yaml := `
locale: vi
storage:
  driver: sqlite
sqlite:
  path: /tmp/gm.db
session:
  ttl: 0s
server:
  cors_origins: ["https://green.example"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.test.yaml"), []byte(yaml), 0o644))
	t.Setenv("ENV", "test")
	t.Setenv("AUTH_LOGIN_RATE_PER_MINUTE", "5")
	t.Setenv("DB_USER", "green")
	t.Setenv("AUTH_RESET_ADMIN_PASSWORD", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "vi", cfg.Locale)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/tmp/gm.db", cfg.SQLite.Path)
	assert.Zero(t, cfg.Session.TTL)
	assert.Equal(t, []string{"https://green.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 5, cfg.Auth.LoginRatePerMinute)
	assert.Equal(t, "green", cfg.Database.User)
	assert.True(t, cfg.Auth.ResetAdminPassword)
}

func TestLoad_RejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"storage driver", "STORAGE_DRIVER", "mongo"},
		{"session store", "SESSION_STORE", "memcached"},
		{"events backend", "EVENTS_BACKEND", "rabbit"},
		{"telemetry exporter", "TELEMETRY_EXPORTER", "jaeger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			t.Setenv("ENV", "nowhere")
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
