package participant

import (
	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/track"
)

// TrackState is the per-track slice of participant state the presentation
// layer cares about.
type TrackState struct {
	TrackID identifiers.TrackID `json:"trackId"`
	Lane    track.Lane          `json:"lane"`
	Muted   bool                `json:"muted"`
}

// State is one participant's presence on the map. The registry owns the
// canonical copy; everything handed out is a snapshot.
type State struct {
	ClientID identifiers.ClientID `json:"clientId"`

	// Position is only meaningful when HasPosition is true. A participant may
	// be observed (via a join event) before its first position report.
	Position    geo.Position `json:"position"`
	HasPosition bool         `json:"hasPosition"`

	IsPublishingMusic bool `json:"isPublishingMusic"`

	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`

	MusicTitle       string `json:"musicTitle,omitempty"`
	PartyTitle       string `json:"partyTitle,omitempty"`
	PartyDescription string `json:"partyDescription,omitempty"`

	Tracks map[identifiers.TrackID]TrackState `json:"tracks,omitempty"`
}

// clone returns a snapshot copy safe to hand to other components.
func (s *State) clone() State {
	ret := *s

	if s.Tracks != nil {
		ret.Tracks = make(map[identifiers.TrackID]TrackState, len(s.Tracks))
		for k, v := range s.Tracks {
			ret.Tracks[k] = v
		}
	}

	return ret
}

// Update is a partial update merged into a participant's state. Nil fields
// are left untouched.
type Update struct {
	Position          *geo.Position
	IsPublishingMusic *bool
	Username          *string
	AvatarURL         *string
	MusicTitle        *string
	PartyTitle        *string
	PartyDescription  *string
}

// apply merges the update into s and reports whether anything actually
// changed. This equality check is the primary defense against downstream
// thrash under a high-frequency position feed.
func (u Update) apply(s *State) bool {
	changed := false

	if u.Position != nil && (!s.HasPosition || *u.Position != s.Position) {
		s.Position = *u.Position
		s.HasPosition = true
		changed = true
	}

	if u.IsPublishingMusic != nil && *u.IsPublishingMusic != s.IsPublishingMusic {
		s.IsPublishingMusic = *u.IsPublishingMusic
		changed = true
	}

	if u.Username != nil && *u.Username != s.Username {
		s.Username = *u.Username
		changed = true
	}

	if u.AvatarURL != nil && *u.AvatarURL != s.AvatarURL {
		s.AvatarURL = *u.AvatarURL
		changed = true
	}

	if u.MusicTitle != nil && *u.MusicTitle != s.MusicTitle {
		s.MusicTitle = *u.MusicTitle
		changed = true
	}

	if u.PartyTitle != nil && *u.PartyTitle != s.PartyTitle {
		s.PartyTitle = *u.PartyTitle
		changed = true
	}

	if u.PartyDescription != nil && *u.PartyDescription != s.PartyDescription {
		s.PartyDescription = *u.PartyDescription
		changed = true
	}

	return changed
}
