// Package geofeed delivers participant position updates from the mapping
// collaborator. A feed is a one-way stream of (identity, position) reports
// plus a best-effort way to publish the local listener's own position
// upstream; adapters exist for in-process wiring, redis pub/sub and
// websocket.
package geofeed

import (
	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/identifiers"
)

// ErrFeedClosed is returned when publishing on a closed feed.
var ErrFeedClosed = errors.New("position feed closed")

// Update is one position report from the mapping collaborator. Left marks a
// participant leaving the map; its position is then meaningless.
type Update struct {
	ClientID identifiers.ClientID `json:"clientId"`
	Position geo.Position         `json:"position"`
	Left     bool                 `json:"left,omitempty"`
}

// Feed is a stream of position updates.
type Feed interface {
	// Updates returns the incoming update channel. It closes when the feed
	// shuts down.
	Updates() <-chan Update

	// PublishSelf reports the local listener's position upstream so other
	// participants can spatialize this client.
	PublishSelf(position geo.Position) error

	Close() error
}
