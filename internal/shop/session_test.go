package shop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbandonReleasesOnlyItsOwnGate(t *testing.T) {
	s := NewSession()
	s.connected = true
	s.state = StateReady

	first, err := s.begin(nil, StateOrdering)
	require.NoError(t, err)
	require.NoError(t, s.finish(first, func() { s.state = StateReady }))

	second, err := s.begin(nil, StateLoading)
	require.NoError(t, err)

	// a stale ticket must not free the gate held by the second intent
	s.abandon(first)
	assert.True(t, s.Busy())
	assert.Equal(t, StateLoading, s.State())

	s.abandon(second)
	assert.False(t, s.Busy())
	assert.Equal(t, StateError, s.State())

	_, err = s.begin(nil, "")
	assert.NoError(t, err)
}

func TestAbandonAfterInvalidationLeavesIdle(t *testing.T) {
	s := NewSession()
	s.connected = true
	s.state = StateReady

	tk, err := s.begin(nil, StatePaying)
	require.NoError(t, err)
	s.invalidate()

	s.abandon(tk)
	assert.False(t, s.Busy())
	assert.Equal(t, StateIdle, s.State())
}
