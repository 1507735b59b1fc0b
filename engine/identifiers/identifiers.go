package identifiers

// RoomID is the identifier of the shared map room.
type RoomID string

// ClientID is the transport-assigned identity of a participant on the map.
type ClientID string

// PeerID is the identity of the remote peer that published a track. For
// tracks this is the same value the mapping collaborator reports positions
// under.
type PeerID string

// TrackID uniquely identifies a remote media track. It matches the
// transport-level track identifier.
type TrackID string

func (r RoomID) String() string {
	return string(r)
}

func (c ClientID) String() string {
	return string(c)
}

func (p PeerID) String() string {
	return string(p)
}

func (t TrackID) String() string {
	return string(t)
}
