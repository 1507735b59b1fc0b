package transport

import (
	"encoding/json"

	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/identifiers"
)

// Track describes a remote media track as reported by the transport.
type Track interface {
	TrackID() identifiers.TrackID
	PeerID() identifiers.PeerID
	Label() string
	SimpleTrack() SimpleTrack
}

// SimpleTrack is a plain value implementation of Track.
type SimpleTrack struct {
	trackID identifiers.TrackID
	peerID  identifiers.PeerID
	label   string
}

var _ Track = SimpleTrack{}

func NewSimpleTrack(trackID identifiers.TrackID, peerID identifiers.PeerID, label string) SimpleTrack {
	return SimpleTrack{
		trackID: trackID,
		peerID:  peerID,
		label:   label,
	}
}

func (s SimpleTrack) TrackID() identifiers.TrackID {
	return s.trackID
}

func (s SimpleTrack) PeerID() identifiers.PeerID {
	return s.peerID
}

// Label is the published name of the track, used for lane classification.
func (s SimpleTrack) Label() string {
	return s.label
}

func (s SimpleTrack) SimpleTrack() SimpleTrack {
	return s
}

type trackJSON struct {
	TrackID identifiers.TrackID `json:"trackId"`
	PeerID  identifiers.PeerID  `json:"peerId"`
	Label   string              `json:"label"`
}

func (s SimpleTrack) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(trackJSON{
		TrackID: s.trackID,
		PeerID:  s.peerID,
		Label:   s.label,
	})

	return b, errors.Annotatef(err, "marshal simple track json")
}

func (s *SimpleTrack) UnmarshalJSON(data []byte) error {
	j := trackJSON{}

	err := json.Unmarshal(data, &j)

	s.trackID = j.TrackID
	s.peerID = j.PeerID
	s.label = j.Label

	return errors.Annotatef(err, "unmarshal simple track json")
}
