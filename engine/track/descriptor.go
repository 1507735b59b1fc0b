package track

import (
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/identifiers"
)

// SubscriptionState describes where a track is in its subscribe lifecycle.
type SubscriptionState uint8

const (
	StateUnsubscribed SubscriptionState = iota
	StateSubscribing
	StateSubscribed
	StateFailed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// ErrInvalidTransition is returned when a descriptor is asked to move to a
// state its current state does not permit.
var ErrInvalidTransition = errors.New("invalid subscription state transition")

// Descriptor is the bookkeeping record for one remote media track. The lane
// and owner are immutable; the subscription state advances through the
// lifecycle state machine.
type Descriptor struct {
	trackID identifiers.TrackID
	peerID  identifiers.PeerID
	label   string
	lane    Lane

	state SubscriptionState
	muted bool
}

// NewDescriptor creates a Descriptor in the unsubscribed state, classifying
// the lane from the published label.
func NewDescriptor(trackID identifiers.TrackID, peerID identifiers.PeerID, label string) *Descriptor {
	return &Descriptor{
		trackID: trackID,
		peerID:  peerID,
		label:   label,
		lane:    ClassifyLabel(label),
		state:   StateUnsubscribed,
	}
}

func (d *Descriptor) TrackID() identifiers.TrackID {
	return d.trackID
}

func (d *Descriptor) PeerID() identifiers.PeerID {
	return d.peerID
}

func (d *Descriptor) Label() string {
	return d.label
}

func (d *Descriptor) Lane() Lane {
	return d.lane
}

func (d *Descriptor) State() SubscriptionState {
	return d.state
}

func (d *Descriptor) Muted() bool {
	return d.muted
}

func (d *Descriptor) SetMuted(muted bool) {
	d.muted = muted
}

// BeginSubscribe moves unsubscribed → subscribing. A failed descriptor must
// first be reset through ResetForRetry.
func (d *Descriptor) BeginSubscribe() error {
	if d.state != StateUnsubscribed {
		return errors.Annotatef(ErrInvalidTransition, "begin subscribe: track: %s, state: %s", d.trackID, d.state)
	}

	d.state = StateSubscribing

	return nil
}

// CompleteSubscribe moves subscribing → subscribed.
func (d *Descriptor) CompleteSubscribe() error {
	if d.state != StateSubscribing {
		return errors.Annotatef(ErrInvalidTransition, "complete subscribe: track: %s, state: %s", d.trackID, d.state)
	}

	d.state = StateSubscribed

	return nil
}

// FailSubscribe moves subscribing → failed. The descriptor stays discoverable
// so an external retry can restart the machine.
func (d *Descriptor) FailSubscribe() error {
	if d.state != StateSubscribing {
		return errors.Annotatef(ErrInvalidTransition, "fail subscribe: track: %s, state: %s", d.trackID, d.state)
	}

	d.state = StateFailed

	return nil
}

// EndSubscribe moves subscribing or subscribed → unsubscribed. It covers both
// a completed teardown and the cancellation of an in-flight subscribe whose
// result will be discarded when it lands.
func (d *Descriptor) EndSubscribe() error {
	if d.state != StateSubscribing && d.state != StateSubscribed {
		return errors.Annotatef(ErrInvalidTransition, "end subscribe: track: %s, state: %s", d.trackID, d.state)
	}

	d.state = StateUnsubscribed

	return nil
}

// ResetForRetry moves failed → unsubscribed so a fresh subscribe request can
// restart the machine. Retry is never automatic.
func (d *Descriptor) ResetForRetry() error {
	if d.state != StateFailed {
		return errors.Annotatef(ErrInvalidTransition, "reset for retry: track: %s, state: %s", d.trackID, d.state)
	}

	d.state = StateUnsubscribed

	return nil
}

type descriptorJSON struct {
	TrackID identifiers.TrackID `json:"trackId"`
	PeerID  identifiers.PeerID  `json:"peerId"`
	Label   string              `json:"label"`
	Lane    string              `json:"lane"`
	State   string              `json:"state"`
	Muted   bool                `json:"muted"`
}

// MarshalJSON serializes the descriptor for the presentation layer.
func (d *Descriptor) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(descriptorJSON{
		TrackID: d.trackID,
		PeerID:  d.peerID,
		Label:   d.label,
		Lane:    d.lane.String(),
		State:   d.state.String(),
		Muted:   d.muted,
	})

	return b, errors.Annotatef(err, "marshal descriptor json")
}
