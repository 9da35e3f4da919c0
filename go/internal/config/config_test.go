package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codeclash.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// clearEnv hides overrides set in the environment running the tests
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LOG_LEVEL", "LOG_CONSOLE", "CODECLASH_TRANSPORT", "CODECLASH_ENDPOINT", "CODECLASH_DIAL_TIMEOUT",
		"CODECLASH_BUFFER_SIZE", "CODECLASH_API_URL", "CODECLASH_API_TIMEOUT", "CODECLASH_ROOM",
		"CODECLASH_NICKNAME", "CODECLASH_USER_ID", "CODECLASH_SPECTATE", "GATEWAY_PORT", "NATS_URL",
		"DATABASE_URL", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	config, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *config)
	assert.False(t, config.Database.Enabled())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
  console: false
session:
  transport: nats
  endpoint: nats://nats:4222
  dial_timeout: 3s
room:
  id: r1
  nickname: alice
  tick_interval: 500ms
database:
  host: db
  port: 6543
`)
	clearEnv(t)
	t.Setenv("CODECLASH_ROOM", "r2")
	t.Setenv("CODECLASH_BUFFER_SIZE", "128")
	t.Setenv("DB_PORT", "not a number")

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Log.Level)
	assert.False(t, config.Log.Console)
	assert.Equal(t, TransportNATS, config.Session.Transport)
	assert.Equal(t, "nats://nats:4222", config.Session.Endpoint)
	assert.Equal(t, 3*time.Second, config.Session.DialTimeout)
	assert.Equal(t, 128, config.Session.BufferSize)
	assert.Equal(t, "r2", config.Room.ID, "environment wins over the file")
	assert.Equal(t, "alice", config.Room.Nickname)
	assert.Equal(t, 500*time.Millisecond, config.Room.TickInterval)
	assert.Equal(t, "http://localhost:8080/api/v1", config.API.BaseURL, "unset keys keep their default")

	assert.True(t, config.Database.Enabled())
	assert.Equal(t, 6543, config.Database.Port, "unparsable numbers are ignored")
	assert.Equal(t, "postgres://postgres:postgres@db:6543/codeclash?sslmode=disable", config.Database.DSN())
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, "session: [not, a, map]"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeFile(t, "session:\n  transport: carrier-pigeon\n  buffer_size: 0\n"))
	assert.ErrorContains(t, err, "unknown session transport")
	assert.ErrorContains(t, err, "buffer size must be positive")
}

func TestDatabaseURLWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://u:p@elsewhere/results")
	config, err := Load("")
	require.NoError(t, err)
	assert.True(t, config.Database.Enabled())
	assert.Equal(t, "postgres://u:p@elsewhere/results", config.Database.DSN())
}
