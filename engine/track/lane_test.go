package track_test

import (
	"testing"

	"github.com/soundmap/soundmap/engine/track"
	"github.com/stretchr/testify/assert"
)

func TestClassifyLabel(t *testing.T) {
	testCases := []struct {
		label string
		want  track.Lane
	}{
		{"music-party1.mp3", track.LaneMusic},
		{"mic-123", track.LaneVoice},
		{"music-", track.LaneMusic},
		{"Music-party1.mp3", track.LaneVoice},
		{"", track.LaneVoice},
		{"somemusic-file", track.LaneVoice},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, track.ClassifyLabel(tc.label), "label: %q", tc.label)
	}
}

func TestLaneString(t *testing.T) {
	assert.Equal(t, "voice", track.LaneVoice.String())
	assert.Equal(t, "music", track.LaneMusic.String())
}
