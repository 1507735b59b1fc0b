// Package participant implements the authoritative in-memory registry of
// participants on the shared map. The registry is the single writer of
// participant state; every other component receives read-only snapshots or
// change events.
package participant

import (
	"sort"
	"sync"

	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
)

// ErrInvalidPosition is returned when an update carries a non-finite
// coordinate. The update is dropped; the previous entry stays intact.
var ErrInvalidPosition = errors.New("position coordinates must be finite")

// Registry is the in-memory map of participant identity to presence state.
// It is safe for concurrent use. Events are emitted while the registry mutex
// is held, so snapshots for one participant always arrive in the order the
// changes were applied.
type Registry struct {
	log    logger.Logger
	selfID identifiers.ClientID

	eventsChan chan Event
	events     *events
	done       chan struct{}
	closeOnce  sync.Once

	mu      sync.Mutex
	closed  bool
	entries map[identifiers.ClientID]*State
}

// NewRegistry creates a registry. selfID names the local listener; it is kept
// in the registry like any other participant so distance queries have an
// origin, but it is excluded from Nearest results.
func NewRegistry(log logger.Logger, selfID identifiers.ClientID) *Registry {
	eventsChan := make(chan Event)
	done := make(chan struct{})

	return &Registry{
		log:        log.WithNamespaceAppended("registry"),
		selfID:     selfID,
		eventsChan: eventsChan,
		events:     newEvents(eventsChan, done, 64),
		done:       done,
		entries:    map[identifiers.ClientID]*State{},
	}
}

// emit hands an event to the fan-out. Called with r.mu held. The send is
// abandoned when Close runs, so a writer parked behind a wedged subscriber
// can never end up sending on a channel that is about to be closed.
func (r *Registry) emit(event Event) {
	select {
	case r.eventsChan <- event:
	case <-r.done:
	}
}

func (r *Registry) SelfID() identifiers.ClientID {
	return r.selfID
}

// Upsert merges a partial update into the entry for clientID, creating the
// entry when absent. It returns true when anything actually changed; when
// nothing changed no event is emitted and no new snapshot is produced.
func (r *Registry) Upsert(clientID identifiers.ClientID, update Update) (bool, error) {
	if update.Position != nil && !update.Position.Valid() {
		prometheusPositionUpdatesRejected.Inc()
		r.log.Warn("Dropping position update with non-finite coordinates", logger.Ctx{
			"client_id": clientID,
		})

		return false, errors.Annotatef(ErrInvalidPosition, "upsert: %s", clientID)
	}

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return false, nil
	}

	state, ok := r.entries[clientID]
	if !ok {
		state = &State{ClientID: clientID}
		r.entries[clientID] = state
		prometheusParticipantsActive.Inc()

		// A brand new entry counts as a change even when the update itself is
		// empty: the participant has been observed.
		update.apply(state)
		r.emit(Event{Type: EventTypeUpsert, State: state.clone()})

		r.mu.Unlock()

		return true, nil
	}

	if !update.apply(state) {
		prometheusUpdatesSuppressed.Inc()

		r.mu.Unlock()

		return false, nil
	}

	r.emit(Event{Type: EventTypeUpsert, State: state.clone()})

	r.mu.Unlock()

	return true, nil
}

// SetTrack records or updates a track descriptor slice on the owning
// participant's state, creating the entry when absent.
func (r *Registry) SetTrack(clientID identifiers.ClientID, ts TrackState) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return
	}

	state, ok := r.entries[clientID]
	if !ok {
		state = &State{ClientID: clientID}
		r.entries[clientID] = state
		prometheusParticipantsActive.Inc()
	}

	if state.Tracks == nil {
		state.Tracks = map[identifiers.TrackID]TrackState{}
	}

	if existing, ok := state.Tracks[ts.TrackID]; ok && existing == ts {
		r.mu.Unlock()

		return
	}

	state.Tracks[ts.TrackID] = ts
	r.emit(Event{Type: EventTypeUpsert, State: state.clone()})

	r.mu.Unlock()
}

// RemoveTrack removes a track descriptor slice; no-op when the participant or
// track is unknown.
func (r *Registry) RemoveTrack(clientID identifiers.ClientID, trackID identifiers.TrackID) {
	r.mu.Lock()

	state, ok := r.entries[clientID]
	if r.closed || !ok {
		r.mu.Unlock()

		return
	}

	if _, ok := state.Tracks[trackID]; !ok {
		r.mu.Unlock()

		return
	}

	delete(state.Tracks, trackID)
	r.emit(Event{Type: EventTypeUpsert, State: state.clone()})

	r.mu.Unlock()
}

// Remove deletes the entry for clientID. No-op when absent.
func (r *Registry) Remove(clientID identifiers.ClientID) {
	r.mu.Lock()

	state, ok := r.entries[clientID]
	if r.closed || !ok {
		r.mu.Unlock()

		return
	}

	delete(r.entries, clientID)
	prometheusParticipantsActive.Dec()
	r.emit(Event{Type: EventTypeRemove, State: state.clone()})

	r.mu.Unlock()
}

// Get returns a snapshot of a single participant.
func (r *Registry) Get(clientID identifiers.ClientID) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.entries[clientID]
	if !ok {
		return State{}, false
	}

	return state.clone(), true
}

// Snapshot returns snapshots of all participants, sorted by identity for
// determinism.
func (r *Registry) Snapshot() []State {
	r.mu.Lock()

	ret := make([]State, 0, len(r.entries))
	for _, state := range r.entries {
		ret = append(ret, state.clone())
	}

	r.mu.Unlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ClientID < ret[j].ClientID
	})

	return ret
}

// Nearby is one Nearest result: a participant snapshot and its distance from
// the query origin in meters.
type Nearby struct {
	State    State   `json:"state"`
	Distance float64 `json:"distance"`
}

// Nearest returns all participants with a known position within radius meters
// of origin, excluding the local listener, sorted ascending by distance with
// ties broken by identity ordering.
func (r *Registry) Nearest(origin geo.Position, radius float64) []Nearby {
	r.mu.Lock()

	var ret []Nearby

	for clientID, state := range r.entries {
		if clientID == r.selfID || !state.HasPosition {
			continue
		}

		if d := geo.Distance(origin, state.Position); d <= radius {
			ret = append(ret, Nearby{State: state.clone(), Distance: d})
		}
	}

	r.mu.Unlock()

	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Distance != ret[j].Distance {
			return ret[i].Distance < ret[j].Distance
		}

		return ret[i].State.ClientID < ret[j].State.ClientID
	})

	return ret
}

// DistanceTo returns the distance in meters from the local listener to the
// named participant. The second return value is false when either side has no
// known position.
func (r *Registry) DistanceTo(clientID identifiers.ClientID) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	self, ok := r.entries[r.selfID]
	if !ok || !self.HasPosition {
		return 0, false
	}

	other, ok := r.entries[clientID]
	if !ok || !other.HasPosition {
		return 0, false
	}

	return geo.Distance(self.Position, other.Position), true
}

// SubscribeToEvents creates a new subscription to registry change events.
func (r *Registry) SubscribeToEvents(subscriberID identifiers.ClientID) (<-chan Event, error) {
	ch, err := r.events.Subscribe(subscriberID)

	return ch, errors.Annotatef(err, "sub events: %s", subscriberID)
}

// UnsubscribeFromEvents removes an existing event subscription.
func (r *Registry) UnsubscribeFromEvents(subscriberID identifiers.ClientID) error {
	err := r.events.Unsubscribe(subscriberID)

	return errors.Annotatef(err, "unsub events: %s", subscriberID)
}

// Close tears down the event fan-out. Writers parked on an emit are released
// before the events channel is closed; a racing Upsert drops its event
// instead of panicking. The registry must not be used after Close.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.done)

		r.mu.Lock()

		r.closed = true
		prometheusParticipantsActive.Sub(float64(len(r.entries)))
		r.entries = map[identifiers.ClientID]*State{}

		r.mu.Unlock()

		close(r.eventsChan)
		<-r.events.Done()
	})
}
