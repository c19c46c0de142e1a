package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DOUBAO_API_KEY", "doubao-key")
	t.Setenv("ARK_API_KEY", "")
	t.Setenv("CRITIC_API_KEY", "")
	t.Setenv("TAVILY_API_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "user-1", cfg.Storage.UserID)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.UpstreamIdleTimeout)
	assert.Equal(t, "doubao-key", cfg.Primary.APIKey)
	assert.Equal(t, "doubao-key", cfg.Critic.APIKey, "critic falls back to the primary key")
	assert.Equal(t, "doubao-key", cfg.Title.APIKey)
	assert.Empty(t, cfg.Search.APIKey)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Setenv("DOUBAO_API_KEY", "env-key")
	t.Setenv("TAVILY_API_KEY", "tavily-env")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
primary:
  api_key: file-key
  model: primary-model
critic:
  api_key: critic-key
  model: critic-model
pipeline:
  thinking_budget: 2048
  upstream_idle_timeout: 5s
storage:
  type: disk
  data_dir: /tmp/coach
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "file-key", cfg.Primary.APIKey)
	assert.Equal(t, "primary-model", cfg.Primary.Model)
	assert.Equal(t, "critic-key", cfg.Critic.APIKey)
	assert.Equal(t, 2048, cfg.Pipeline.ThinkingBudget)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.UpstreamIdleTimeout)
	assert.Equal(t, "disk", cfg.Storage.Type)
	assert.Equal(t, "tavily-env", cfg.Search.APIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
