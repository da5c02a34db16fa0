package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "amazon.nova-sonic-v1:0", cfg.Bedrock.ModelID)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	os.Setenv("SERVER_PORT", "9090")
	defer os.Unsetenv("SERVER_PORT")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoad_InvalidConfigReturnsError(t *testing.T) {
	os.Setenv("SERVER_PORT", "999999")
	defer os.Unsetenv("SERVER_PORT")

	_, err := Load("")
	require.Error(t, err)
}
