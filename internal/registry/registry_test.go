package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/session"
)

func TestCreate_DuplicateIDFails(t *testing.T) {
	r := New()
	defer r.Stop()

	_, err := r.Create("CA1", session.InferenceConfig{})
	require.NoError(t, err)

	_, err = r.Create("CA1", session.InferenceConfig{})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGet_ReturnsRegisteredSession(t *testing.T) {
	r := New()
	defer r.Stop()

	s, err := r.Create("CA1", session.InferenceConfig{})
	require.NoError(t, err)

	got, ok := r.Get("CA1")
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRemove_IsIdempotent(t *testing.T) {
	r := New()
	defer r.Stop()
	_, err := r.Create("CA1", session.InferenceConfig{})
	require.NoError(t, err)

	r.Remove("CA1")
	assert.NotPanics(t, func() { r.Remove("CA1") })
	assert.False(t, r.IsActive("CA1"))
}

func TestListActive_ReflectsAllRegistered(t *testing.T) {
	r := New()
	defer r.Stop()
	_, _ = r.Create("CA1", session.InferenceConfig{})
	_, _ = r.Create("CA2", session.InferenceConfig{})

	ids := r.ListActive()
	assert.ElementsMatch(t, []string{"CA1", "CA2"}, ids)
}

func TestSweep_RemovesSessionsIdleBeyondTimeout(t *testing.T) {
	r := New(WithStaleSessionTimeout(10 * time.Millisecond))
	defer r.Stop()
	_, err := r.Create("CA1", session.InferenceConfig{})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	r.sweep()

	assert.False(t, r.IsActive("CA1"))
}

func TestMarkForCleanup_RemovedOnNextSweep(t *testing.T) {
	r := New(WithStaleSessionTimeout(time.Hour))
	defer r.Stop()
	_, err := r.Create("CA1", session.InferenceConfig{})
	require.NoError(t, err)

	r.MarkForCleanup("CA1")
	r.sweep()

	assert.False(t, r.IsActive("CA1"))
}

func TestCount_ReflectsRegisteredSessions(t *testing.T) {
	r := New()
	defer r.Stop()
	assert.Equal(t, 0, r.Count())
	_, _ = r.Create("CA1", session.InferenceConfig{})
	assert.Equal(t, 1, r.Count())
}
