package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/colascope/colascope/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults when no
// environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("COLASCOPE_CONFIG", "")
	t.Setenv("COLASCOPE_DATA_DIR", "")
	t.Setenv("COLASCOPE_LOG_LEVEL", "")
	t.Setenv("COLASCOPE_HEADLESS", "")
	t.Setenv("COLASCOPE_ACCOUNT_ID", "")
	t.Setenv("COLASCOPE_DATABASE_ID", "")
	t.Setenv("COLASCOPE_API_TOKEN", "")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.False(t, cfg.Headless)
	assert.Equal(t, 300*time.Second, cfg.CaptchaTimeout)
	assert.Equal(t, 60*time.Second, cfg.RemoteTimeout)
	assert.Error(t, cfg.Remote.Validate())
}

// TestLoad_EnvOverridesFile verifies precedence: file first, env wins.
func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "colascope.yaml")
	body := []byte("data_dir: /from/file\nheadless: true\nremote:\n  account_id: file-acct\n  database_id: file-db\n  api_token: file-token\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	t.Setenv("COLASCOPE_DATA_DIR", "/from/env")
	t.Setenv("COLASCOPE_ACCOUNT_ID", "env-acct")
	t.Setenv("COLASCOPE_DATABASE_ID", "")
	t.Setenv("COLASCOPE_API_TOKEN", "")
	t.Setenv("COLASCOPE_HEADLESS", "")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.DataDir)
	assert.True(t, cfg.Headless)
	assert.Equal(t, "env-acct", cfg.Remote.AccountID)
	assert.Equal(t, "file-db", cfg.Remote.DatabaseID)
	assert.NoError(t, cfg.Remote.Validate())
}

func TestRemoteValidate(t *testing.T) {
	r := config.Remote{AccountID: "a", DatabaseID: "b", APIToken: "c"}
	assert.NoError(t, r.Validate())
	r.APIToken = ""
	assert.Error(t, r.Validate())
}
