package roundtable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 7000\n")

	config, warnings, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, 7000, config.Server.Port)
	assert.Equal(t, DefaultWorkers, config.Server.Workers)
	assert.Equal(t, DefaultMaxClients, config.Server.MaxClients)
	assert.Equal(t, DefaultServerName, config.Server.Name)
	assert.Equal(t, DefaultNickLen, config.Limits.NickLen)
	assert.Equal(t, DefaultGroupLen, config.Limits.GroupLen)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfigAdjustsBadValues(t *testing.T) {
	path := writeConfigFile(t, `
server:
  name: chat.example.net
  workers: 1
  max-clients: -5
`)

	config, warnings, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "chat.example.net", config.Server.Name)
	assert.Equal(t, DefaultWorkers, config.Server.Workers)
	assert.Equal(t, DefaultMaxClients, config.Server.MaxClients)
	assert.Len(t, warnings, 2)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping\n")
	_, _, err := LoadConfig(path)
	assert.Error(t, err)
}
