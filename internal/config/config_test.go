package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(&cfg))
}

func TestValidate_RejectsShortAuthToken(t *testing.T) {
	cfg := Default()
	cfg.Twilio.AuthToken = "too-short"
	err := Validate(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twilio.authToken")
}

func TestValidate_RejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	require.Error(t, Validate(&cfg))
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "VERBOSE"
	require.Error(t, Validate(&cfg))
}

func TestMaxBufferBytes(t *testing.T) {
	cfg := Default()
	cfg.Audio.MaxBufferMs = 200
	assert.Equal(t, 1600, cfg.MaxBufferBytes())
}

func TestDiffSafe_DetectsLoggingLevelChange(t *testing.T) {
	old := Default()
	next := Default()
	next.Logging.Level = "DEBUG"

	d := DiffSafe(&old, &next)
	assert.True(t, d.Changed())
	assert.True(t, d.LoggingLevelChanged)
	assert.Equal(t, "DEBUG", d.NewLoggingLevel)
}

func TestDiffSafe_NoChange(t *testing.T) {
	old := Default()
	next := Default()
	d := DiffSafe(&old, &next)
	assert.False(t, d.Changed())
}
