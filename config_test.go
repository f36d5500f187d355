package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("", envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), *cfg)
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molsuite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
workers: 4
wait_timeout: 5s
session:
  ttl: 1h
p2rank:
  home: /srv/p2rank
  threads: 8
`), 0644))
	cfg, err := loadConfig(path, envMap(map[string]string{
		"MOLSUITE_LISTEN": ":9100",
		"REDIS_URI":       "redis:6379",
	}))
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Listen)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, Duration(5*time.Second), cfg.WaitTimeout)
	assert.Equal(t, Duration(time.Hour), cfg.Session.TTL)
	assert.Equal(t, Duration(5*time.Minute), cfg.Session.PruneInterval)
	assert.False(t, cfg.Viewer.AllowPrivateFetch)
	assert.Equal(t, "memory", cfg.Session.Backend)
	assert.Equal(t, "/srv/p2rank", cfg.P2Rank.Home)
	assert.Equal(t, 8, cfg.P2Rank.Threads)
	assert.Equal(t, "local", cfg.P2Rank.Runner)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 256, cfg.MaxSessions)

	cfg, err = loadConfig(path, envMap(map[string]string{"P2RANK_HOME": "/opt/p2rank"}))
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "/opt/p2rank", cfg.P2Rank.Home)
}

func TestLoadConfigInvalid(t *testing.T) {
	dir := t.TempDir()
	write := func(body string) string {
		path := filepath.Join(dir, "c.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
		return path
	}
	_, err := loadConfig(write("session:\n  backend: redis\n"), envMap(nil))
	assert.Error(t, err)
	_, err = loadConfig(write("session:\n  backend: redis\n"), envMap(map[string]string{"REDIS_URI": "localhost:6379"}))
	assert.NoError(t, err)
	_, err = loadConfig(write("p2rank:\n  runner: slurm\n"), envMap(nil))
	assert.Error(t, err)
	_, err = loadConfig(write("wait_timeout: soon\n"), envMap(nil))
	assert.Error(t, err)
	_, err = loadConfig(filepath.Join(dir, "missing.yaml"), envMap(nil))
	assert.Error(t, err)
	_, err = loadConfig("", envMap(map[string]string{"MOLSUITE_WORKERS": "many"}))
	assert.Error(t, err)
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, Duration(90*time.Second), d)
	require.NoError(t, json.Unmarshal([]byte(`1000`), &d))
	assert.Equal(t, Duration(1000), d)
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
	body, err := json.Marshal(Duration(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"1m0s"`, string(body))
}
