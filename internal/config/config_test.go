package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileRejectsMissingJWTSecret(t *testing.T) {
	t.Setenv("KERNELD_JWT_SECRET", "")
	cfg, err := Load("")
	// JWTSecret unset and Insecure false -> validation must fail.
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadFromFileMergesOverYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kerneld.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kernel:
  persistence: snapshot
  listen: ":9999"
auth:
  insecure: true
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", cfg.Kernel.Persistence)
	assert.Equal(t, ":9999", cfg.Kernel.Listen)
	assert.True(t, cfg.Auth.Insecure)
}

func TestLoadFromEnvOverridesFile(t *testing.T) {
	t.Setenv("KERNELD_PERSISTENCE", "state-action-log")
	t.Setenv("KERNELD_JWT_SECRET", "") // keep auth empty, rely on insecure flag below

	dir := t.TempDir()
	path := filepath.Join(dir, "kerneld.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kernel:\n  persistence: snapshot\nauth:\n  insecure: true\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "state-action-log", cfg.Kernel.Persistence)
}

func TestValidateRejectsUnknownPersistenceMode(t *testing.T) {
	cfg := Default()
	cfg.Auth.Insecure = true
	cfg.Kernel.Persistence = "bogus"
	assert.Error(t, cfg.Validate())
}
