package track_test

import (
	"testing"

	"github.com/soundmap/soundmap/engine/multierr"
	"github.com/soundmap/soundmap/engine/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptor_Lifecycle(t *testing.T) {
	d := track.NewDescriptor("track1", "peerA", "mic-123")

	assert.Equal(t, track.LaneVoice, d.Lane())
	assert.Equal(t, track.StateUnsubscribed, d.State())

	require.NoError(t, d.BeginSubscribe())
	assert.Equal(t, track.StateSubscribing, d.State())

	require.NoError(t, d.CompleteSubscribe())
	assert.Equal(t, track.StateSubscribed, d.State())

	require.NoError(t, d.EndSubscribe())
	assert.Equal(t, track.StateUnsubscribed, d.State())
}

func TestDescriptor_EndSubscribeCancelsInFlight(t *testing.T) {
	d := track.NewDescriptor("track1", "peerA", "mic-123")

	require.NoError(t, d.BeginSubscribe())
	require.NoError(t, d.EndSubscribe())
	assert.Equal(t, track.StateUnsubscribed, d.State())

	err := d.EndSubscribe()
	assert.True(t, multierr.Is(err, track.ErrInvalidTransition))
}

func TestDescriptor_FailureAndRetry(t *testing.T) {
	d := track.NewDescriptor("track1", "peerA", "mic-123")

	require.NoError(t, d.BeginSubscribe())
	require.NoError(t, d.FailSubscribe())
	assert.Equal(t, track.StateFailed, d.State())

	// A fresh external subscribe restarts from unsubscribed.
	require.NoError(t, d.ResetForRetry())
	assert.Equal(t, track.StateUnsubscribed, d.State())

	require.NoError(t, d.BeginSubscribe())
	require.NoError(t, d.CompleteSubscribe())
	assert.Equal(t, track.StateSubscribed, d.State())
}

func TestDescriptor_InvalidTransitions(t *testing.T) {
	d := track.NewDescriptor("track1", "peerA", "music-set.mp3")

	assert.Equal(t, track.LaneMusic, d.Lane())

	err := d.CompleteSubscribe()
	assert.True(t, multierr.Is(err, track.ErrInvalidTransition))

	err = d.FailSubscribe()
	assert.True(t, multierr.Is(err, track.ErrInvalidTransition))

	err = d.ResetForRetry()
	assert.True(t, multierr.Is(err, track.ErrInvalidTransition))

	require.NoError(t, d.BeginSubscribe())

	err = d.BeginSubscribe()
	assert.True(t, multierr.Is(err, track.ErrInvalidTransition))
}
