// Package transport defines the boundary between the audio engine and the
// real-time media transport collaborator. The engine consumes track
// availability events and already-decoded media streams; connection
// establishment, signaling and network adaptation live behind this boundary.
package transport

import (
	"context"

	"github.com/faiface/beep"
	"github.com/soundmap/soundmap/engine/identifiers"
)

// MediaStream is a decoded remote audio stream, delivered once a track
// subscription succeeds. Closing it releases transport-side resources; the
// streamer drains after Close.
type MediaStream interface {
	// Streamer returns the decoded sample stream. It must only be consumed by
	// a single playback path.
	Streamer() beep.Streamer

	// SampleRate is the sample rate of the decoded stream.
	SampleRate() beep.SampleRate

	Close() error
}

// Transport is the handle the engine uses to learn about remote tracks and
// subscribe to them.
type Transport interface {
	ClientID() identifiers.ClientID

	// TrackEvents delivers published/unpublished notifications. The channel
	// closes when the transport shuts down.
	TrackEvents() <-chan TrackEvent

	// Subscribe requests the media for a published track. It may block on
	// network round trips; callers run it off the event path and must be
	// prepared for the result to arrive after the track has been torn down.
	Subscribe(ctx context.Context, trackID identifiers.TrackID) (MediaStream, error)

	// Unsubscribe cancels an active subscription. Calling it for a track that
	// is not subscribed is a no-op.
	Unsubscribe(trackID identifiers.TrackID) error

	Close() error
}
