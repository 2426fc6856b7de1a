package coremain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neardns/neardns/pkg/kvstore"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadConfig(t *testing.T) {
	p := writeFile(t, "config.yaml", `
log:
  level: debug
store:
  type: redis
  address: 127.0.0.1:6379
  redis_db: "2"
api:
  http: 0.0.0.0:9000
  write_rate: 5
`)
	cfg, used, err := loadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, p, used)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, 2, cfg.Store.RedisDB)
	assert.Equal(t, "neardns", cfg.Store.KeyPrefix)
	assert.Equal(t, "0.0.0.0:9000", cfg.API.HTTP)
	assert.Equal(t, 5.0, cfg.API.WriteRate)
	assert.Equal(t, 100, cfg.API.WriteBurst)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("NEARDNS_STORE_TYPE", "memory")
	p := writeFile(t, "config.yaml", "store:\n  type: sqlite\n")
	cfg, _, err := loadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestLoadConfigErrors(t *testing.T) {
	_, _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	p := writeFile(t, "config.yaml", "store:\n  type: etcd\n")
	_, _, err = loadConfig(p)
	assert.ErrorIs(t, err, kvstore.ErrUnsupportedType)

	p = writeFile(t, "config.yaml", "stroe:\n  type: sqlite\n")
	_, _, err = loadConfig(p)
	assert.Error(t, err)
}

func TestLoadConfigDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, used, err := loadConfig("")
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "neardns.db", cfg.Store.Address)
	assert.Equal(t, "info", cfg.Log.Level)
}
