package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, 280, cfg.LLM.MaxTokens)
	assert.Equal(t, 2*time.Minute, cfg.GetTickTimeout())
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
scheduler:
  tick_timeout: 45s
  recent_window: 8
  engagement_limit: 0
llm:
  provider: openai
  model: gpt-4o-mini
`), 0o600))
	t.Setenv("FLEET_DB", "/tmp/fleet-test.db")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("TELEGRAM_CHAT_ID", "-1001")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.GetTickTimeout())
	assert.Equal(t, 8, cfg.Scheduler.RecentWindow)
	assert.Zero(t, cfg.Scheduler.EngagementLimit)
	assert.Equal(t, "/tmp/fleet-test.db", cfg.Database.Path)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "g-key", cfg.LLM.APIKey)
	assert.Equal(t, int64(-1001), cfg.Notify.TelegramChatID)
	require.NoError(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PLATFORM_API_KEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("PLATFORM_API_KEY") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Platform.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.LLM.Provider = "carrier-pigeon"
	cfg.Platform.Timeout = "soon"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "llm.provider")
	assert.Contains(t, err.Error(), "platform.timeout")
}
