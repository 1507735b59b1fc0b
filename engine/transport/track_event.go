package transport

// TrackEventType describes a change in a remote track's availability.
type TrackEventType uint8

const (
	// TrackEventTypePublished is emitted when a remote participant publishes
	// a new track.
	TrackEventTypePublished TrackEventType = iota + 1

	// TrackEventTypeUnpublished is emitted when a remote track goes away,
	// either explicitly or because its owner disconnected.
	TrackEventTypeUnpublished
)

// TrackEvent is delivered by the transport whenever remote track availability
// changes.
type TrackEvent struct {
	Track SimpleTrack
	Type  TrackEventType
}
