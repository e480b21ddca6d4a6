package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCheck_ValidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "valid.hcl")

	validConfig := `
gateway {
  interface = "br-lan"
  port      = 2050
}

authority {
  url = "https://auth.example.com/api"
}

journal {
  driver = "none"
}
`
	require.NoError(t, os.WriteFile(configPath, []byte(validConfig), 0o644))
	assert.NoError(t, RunCheck(configPath, true))
}

func TestRunCheck_InvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.hcl")

	invalidConfig := `
gateway {
  interface = "br-lan"
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidConfig), 0o644))
	assert.Error(t, RunCheck(configPath, false))
}

func TestRunCheck_BadDuration(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.hcl")
	require.NoError(t, os.WriteFile(configPath, []byte("timeouts {\n  idle = \"soon\"\n}\n"), 0o644))
	assert.Error(t, RunCheck(configPath, false))
}

func TestRunCheck_MissingPath(t *testing.T) {
	assert.Error(t, RunCheck("", false))
}
