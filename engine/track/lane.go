package track

import "strings"

// Lane is the playback path a remote audio track is routed to. The lane is
// decided once, when the transport first reports the track, and never changes
// for the lifetime of the track.
type Lane uint8

const (
	// LaneVoice tracks are spatialized against the listener position.
	LaneVoice Lane = iota + 1

	// LaneMusic tracks bypass spatialization and play at uniform volume for
	// every listener.
	LaneMusic
)

// MusicLabelPrefix is the reserved published-name prefix that marks a track
// as a music broadcast. Anything else is voice.
const MusicLabelPrefix = "music-"

func (l Lane) String() string {
	switch l {
	case LaneVoice:
		return "voice"
	case LaneMusic:
		return "music"
	default:
		return "unknown"
	}
}

// ClassifyLabel assigns a lane based on a track's published name. This single
// prefix check is the entire decision procedure; it is applied at publication
// time and the result is carried immutably on the descriptor so a track can
// never switch paths mid-lifecycle.
func ClassifyLabel(label string) Lane {
	if strings.HasPrefix(label, MusicLabelPrefix) {
		return LaneMusic
	}

	return LaneVoice
}
