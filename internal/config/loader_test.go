package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 2*time.Second, cfg.Client.StatusDelay)
	assert.Equal(t, 10*time.Second, cfg.Client.Timeout)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := []byte(`
server:
  addr: ":9090"
  allowed_origins: ["http://a.test", "http://b.test"]
database:
  driver: postgres
  host: db.internal
  port: 6543
client:
  status_delay: 500ms
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))
	t.Setenv("FIELDSYNC_DATABASE_HOST", "override.internal")
	t.Setenv("FIELDSYNC_CLIENT_BASE_URL", "http://api.test/api/")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "override.internal", cfg.Database.Postgres.Host)
	assert.Equal(t, 6543, cfg.Database.Postgres.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Client.StatusDelay)
	assert.Equal(t, "http://api.test/api", cfg.Client.BaseURL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FIELDSYNC_CLIENT_USER=dotenv-user\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FIELDSYNC_CLIENT_USER") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv-user", cfg.Client.User)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "sqlite"
	assert.Error(t, cfg.Validate())
}
