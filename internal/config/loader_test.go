package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: 9191
providers:
  endpoints:
    - name: primary
      resource: order-east
      credential: key-east
      models:
        o3-mini-3: o3-mini-order-vision-3
    - name: secondary
      resource: order-west
      credential: key-west
vectorstore:
  provider: chromem
  addresses:
    index: addresses
  materials:
    index: materials
pipeline:
  memo_timeout: 30s
`

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "ordermatch")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, sampleYAML, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	require.Len(t, cfg.Providers.Endpoints, 2)
	assert.Equal(t, "key-east", cfg.Providers.Endpoints[0].Credential.Value())
	assert.Equal(t, "o3-mini-order-vision-3", cfg.Providers.Endpoints[0].Models["o3-mini-3"])
	assert.Equal(t, "2024-12-01-preview", cfg.Providers.Endpoints[1].APIVersion)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.MemoTimeout.Duration())
	assert.Equal(t, 1536, cfg.Providers.Dimensions)
	assert.Equal(t, "test embedding for race condition", cfg.Providers.ProbeInput)
	assert.Contains(t, cfg.Pipeline.VendorNames, "bio-rad")
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, sampleYAML, 0600)
	t.Setenv("ORDERMATCH_PIPELINE_MAX_CONCURRENCY", "4")
	t.Setenv("ORDERMATCH_SERVER_PORT", "7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pipeline.MaxConcurrency)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	path := writeConfig(t, sampleYAML, 0644)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_RejectsOutsideAllowedDirs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoad_ValidationErrors(t *testing.T) {
	path := writeConfig(t, `
providers:
  endpoints:
    - name: only
      resource: one
vectorstore:
  provider: milvus
`, 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "race needs at least 2 endpoints")
	assert.Contains(t, err.Error(), "vectorstore.provider")
}

func TestConfig_Decode(t *testing.T) {
	path := writeConfig(t, sampleYAML+"\nlogging:\n  level: debug\n", 0600)
	cfg, err := Load(path)
	require.NoError(t, err)

	var section struct {
		Level string `koanf:"level"`
	}
	require.NoError(t, cfg.Decode("logging", &section))
	assert.Equal(t, "debug", section.Level)

	var missing struct{ X int }
	assert.NoError(t, cfg.Decode("telemetry", &missing))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "pipeline.max_concurrency", envKey("ORDERMATCH_PIPELINE_MAX_CONCURRENCY"))
	assert.Equal(t, "server.port", envKey("ORDERMATCH_SERVER_PORT"))
	assert.Equal(t, "debug", envKey("ORDERMATCH_DEBUG"))
}
