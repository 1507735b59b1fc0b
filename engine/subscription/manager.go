// Package subscription drives the lifecycle of remote track subscriptions:
// it watches the transport for published and unpublished tracks, keeps a
// descriptor per known track, subscribes according to policy and routes the
// resulting media to the lane it belongs to. Voice goes to the spatial graph,
// music goes to the global player, and a track never switches lanes.
package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
	"github.com/soundmap/soundmap/engine/multierr"
	"github.com/soundmap/soundmap/engine/participant"
	"github.com/soundmap/soundmap/engine/track"
	"github.com/soundmap/soundmap/engine/transport"
)

// ErrUnknownTrack is returned for operations on a track the transport never
// published or has since unpublished.
var ErrUnknownTrack = errors.New("unknown track")

// DefaultSubscribeTimeout bounds a single subscribe round trip.
const DefaultSubscribeTimeout = 10 * time.Second

// VoiceSink is where subscribed voice tracks are routed. Implemented by the
// spatial audio graph controller.
type VoiceSink interface {
	AddSource(trackID identifiers.TrackID, stream transport.MediaStream) error
	RemoveSource(trackID identifiers.TrackID) error
	UpdateSourcePosition(trackID identifiers.TrackID, position geo.Position)
	SetSourceMuted(trackID identifiers.TrackID, muted bool)
}

// MusicSink is where subscribed music tracks are routed. Implemented by the
// music player.
type MusicSink interface {
	Play(trackID identifiers.TrackID, stream transport.MediaStream) error
	Stop(trackID identifiers.TrackID) error
}

// Config holds the subscription policy.
type Config struct {
	// AutoSubscribe subscribes to every track as soon as it is published.
	// When false, tracks wait for an explicit Subscribe call.
	AutoSubscribe bool

	// SubscribeTimeout bounds one subscribe attempt.
	SubscribeTimeout time.Duration
}

// Manager owns one descriptor per published remote track and the goroutines
// performing subscribe round trips. All methods are safe for concurrent use.
type Manager struct {
	log      logger.Logger
	tr       transport.Transport
	registry *participant.Registry
	voice    VoiceSink
	music    MusicSink
	config   Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	entries map[identifiers.TrackID]*entry
}

// entry pairs a descriptor with the generation counter that invalidates
// in-flight subscribe results after cancellation or unpublication.
type entry struct {
	desc       *track.Descriptor
	generation uint64
}

// NewManager creates a manager and starts consuming transport track events.
func NewManager(
	log logger.Logger,
	tr transport.Transport,
	registry *participant.Registry,
	voice VoiceSink,
	music MusicSink,
	config Config,
) *Manager {
	if config.SubscribeTimeout == 0 {
		config.SubscribeTimeout = DefaultSubscribeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		log:      log.WithNamespaceAppended("subscription"),
		tr:       tr,
		registry: registry,
		voice:    voice,
		music:    music,
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		entries:  map[identifiers.TrackID]*entry{},
	}

	m.wg.Add(1)

	go m.loop()

	return m
}

func (m *Manager) loop() {
	defer m.wg.Done()

	for {
		select {
		case event, ok := <-m.tr.TrackEvents():
			if !ok {
				return
			}

			m.handleTrackEvent(event)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) handleTrackEvent(event transport.TrackEvent) {
	switch event.Type {
	case transport.TrackEventTypePublished:
		m.handlePublished(event.Track)
	case transport.TrackEventTypeUnpublished:
		m.handleUnpublished(event.Track)
	default:
		m.log.Warn("Ignoring unknown track event type", logger.Ctx{
			"track_id":   event.Track.TrackID(),
			"event_type": event.Type,
		})
	}
}

func (m *Manager) handlePublished(t transport.SimpleTrack) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return
	}

	if _, ok := m.entries[t.TrackID()]; ok {
		m.mu.Unlock()

		m.log.Warn("Ignoring duplicate publication", logger.Ctx{
			"track_id": t.TrackID(),
		})

		return
	}

	e := &entry{
		desc: track.NewDescriptor(t.TrackID(), t.PeerID(), t.Label()),
	}

	m.entries[t.TrackID()] = e
	prometheusTracksKnown.Set(float64(len(m.entries)))

	m.log.Info("Track published", logger.Ctx{
		"track_id": t.TrackID(),
		"peer_id":  t.PeerID(),
		"lane":     e.desc.Lane(),
	})

	if m.config.AutoSubscribe {
		if err := m.beginSubscribeLocked(e); err != nil {
			m.log.Error("Auto subscribe", errors.Trace(err), logger.Ctx{
				"track_id": t.TrackID(),
			})
		}
	}

	m.mu.Unlock()

	m.registry.SetTrack(identifiers.ClientID(t.PeerID()), participant.TrackState{
		TrackID: t.TrackID(),
		Lane:    e.desc.Lane(),
	})
}

func (m *Manager) handleUnpublished(t transport.SimpleTrack) {
	m.mu.Lock()

	e, ok := m.entries[t.TrackID()]
	if !ok {
		m.mu.Unlock()

		return
	}

	// Teardown strictly precedes forgetting the track, so no audio node can
	// outlive its descriptor.
	if err := m.teardownLocked(e); err != nil {
		m.log.Error("Unpublish teardown", errors.Trace(err), logger.Ctx{
			"track_id": t.TrackID(),
		})
	}

	delete(m.entries, t.TrackID())
	prometheusTracksKnown.Set(float64(len(m.entries)))

	m.mu.Unlock()

	m.registry.RemoveTrack(identifiers.ClientID(t.PeerID()), t.TrackID())

	m.log.Info("Track unpublished", logger.Ctx{
		"track_id": t.TrackID(),
	})
}

// Subscribe starts a subscription for a published track. Tracks already
// subscribed or mid-subscribe are left alone; a previously failed track is
// reset and retried. Retry after failure only ever happens through this
// explicit call.
func (m *Manager) Subscribe(trackID identifiers.TrackID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.Annotatef(ErrUnknownTrack, "subscribe: %s", trackID)
	}

	e, ok := m.entries[trackID]
	if !ok {
		return errors.Annotatef(ErrUnknownTrack, "subscribe: %s", trackID)
	}

	switch e.desc.State() {
	case track.StateSubscribing, track.StateSubscribed:
		return nil
	case track.StateFailed:
		if err := e.desc.ResetForRetry(); err != nil {
			return errors.Trace(err)
		}
	}

	return errors.Trace(m.beginSubscribeLocked(e))
}

func (m *Manager) beginSubscribeLocked(e *entry) error {
	if err := e.desc.BeginSubscribe(); err != nil {
		return errors.Trace(err)
	}

	e.generation++
	prometheusSubscribeAttempts.Inc()

	m.wg.Add(1)

	go m.subscribe(e.desc.TrackID(), e.generation)

	return nil
}

// subscribe performs the transport round trip off the event path and hands
// the result to complete, which decides whether it still matters.
func (m *Manager) subscribe(trackID identifiers.TrackID, generation uint64) {
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(m.ctx, m.config.SubscribeTimeout)
	defer cancel()

	stream, err := m.tr.Subscribe(ctx, trackID)

	m.complete(trackID, generation, stream, errors.Trace(err))
}

func (m *Manager) complete(trackID identifiers.TrackID, generation uint64, stream transport.MediaStream, err error) {
	m.mu.Lock()

	e, ok := m.entries[trackID]
	if !ok || e.generation != generation || m.closed {
		m.mu.Unlock()

		// The track went away, or was cancelled, while the round trip was in
		// flight. The result is stale and must not touch any state.
		m.discardStale(trackID, stream)

		return
	}

	if err != nil {
		prometheusSubscribeFailures.Inc()

		if ferr := e.desc.FailSubscribe(); ferr != nil {
			m.log.Error("Fail subscribe transition", errors.Trace(ferr), logger.Ctx{
				"track_id": trackID,
			})
		}

		m.mu.Unlock()

		m.log.Error("Subscribe", errors.Trace(err), logger.Ctx{
			"track_id": trackID,
		})

		return
	}

	if cerr := e.desc.CompleteSubscribe(); cerr != nil {
		m.mu.Unlock()

		m.log.Error("Complete subscribe transition", errors.Trace(cerr), logger.Ctx{
			"track_id": trackID,
		})

		m.discardStale(trackID, stream)

		return
	}

	routeErr := m.routeLocked(e, stream)

	m.mu.Unlock()

	if routeErr != nil {
		m.log.Error("Route subscribed track", errors.Trace(routeErr), logger.Ctx{
			"track_id": trackID,
		})

		return
	}

	m.log.Info("Track subscribed", logger.Ctx{
		"track_id": trackID,
		"lane":     e.desc.Lane(),
	})
}

func (m *Manager) discardStale(trackID identifiers.TrackID, stream transport.MediaStream) {
	if stream == nil {
		return
	}

	if err := stream.Close(); err != nil {
		m.log.Error("Close stale stream", errors.Trace(err), logger.Ctx{
			"track_id": trackID,
		})
	}

	if err := m.tr.Unsubscribe(trackID); err != nil {
		m.log.Error("Unsubscribe stale stream", errors.Trace(err), logger.Ctx{
			"track_id": trackID,
		})
	}
}

// routeLocked hands a freshly subscribed stream to its lane's sink. Voice
// sources are additionally seeded with the owner's last known position.
func (m *Manager) routeLocked(e *entry, stream transport.MediaStream) error {
	trackID := e.desc.TrackID()

	switch e.desc.Lane() {
	case track.LaneMusic:
		return errors.Trace(m.music.Play(trackID, stream))
	default:
		if err := m.voice.AddSource(trackID, stream); err != nil {
			return errors.Trace(err)
		}

		if state, ok := m.registry.Get(identifiers.ClientID(e.desc.PeerID())); ok && state.HasPosition {
			m.voice.UpdateSourcePosition(trackID, state.Position)
		}

		if e.desc.Muted() {
			m.voice.SetSourceMuted(trackID, true)
		}

		return nil
	}
}

// teardownLocked detaches a track's audio and invalidates any in-flight
// subscribe. Safe to call in any state.
func (m *Manager) teardownLocked(e *entry) error {
	trackID := e.desc.TrackID()

	// Invalidate a pending result regardless of state.
	e.generation++

	errs := multierr.New()

	switch e.desc.State() {
	case track.StateSubscribed:
		switch e.desc.Lane() {
		case track.LaneMusic:
			errs.Add(errors.Trace(m.music.Stop(trackID)))
		default:
			errs.Add(errors.Trace(m.voice.RemoveSource(trackID)))
		}

		errs.Add(errors.Trace(m.tr.Unsubscribe(trackID)))
		errs.Add(errors.Trace(e.desc.EndSubscribe()))
	case track.StateSubscribing:
		errs.Add(errors.Trace(e.desc.EndSubscribe()))
	}

	return errors.Trace(errs.Err())
}

// Unsubscribe tears down an active subscription and returns the descriptor to
// unsubscribed, keeping the track available for a later Subscribe.
// Unsubscribing a track that is not subscribed is a no-op.
func (m *Manager) Unsubscribe(trackID identifiers.TrackID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[trackID]
	if !ok {
		return errors.Annotatef(ErrUnknownTrack, "unsubscribe: %s", trackID)
	}

	if e.desc.State() == track.StateUnsubscribed || e.desc.State() == track.StateFailed {
		return nil
	}

	return errors.Trace(m.teardownLocked(e))
}

// SetMuted mutes or unmutes a track without touching its subscription.
func (m *Manager) SetMuted(trackID identifiers.TrackID, muted bool) error {
	m.mu.Lock()

	e, ok := m.entries[trackID]
	if !ok {
		m.mu.Unlock()

		return errors.Annotatef(ErrUnknownTrack, "set muted: %s", trackID)
	}

	e.desc.SetMuted(muted)

	if e.desc.State() == track.StateSubscribed && e.desc.Lane() == track.LaneVoice {
		m.voice.SetSourceMuted(trackID, muted)
	}

	peerID := e.desc.PeerID()
	lane := e.desc.Lane()

	m.mu.Unlock()

	m.registry.SetTrack(identifiers.ClientID(peerID), participant.TrackState{
		TrackID: trackID,
		Lane:    lane,
		Muted:   muted,
	})

	return nil
}

// Descriptor returns a copy of the bookkeeping record for one track.
func (m *Manager) Descriptor(trackID identifiers.TrackID) (track.Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[trackID]
	if !ok {
		return track.Descriptor{}, false
	}

	return *e.desc, true
}

// Descriptors returns copies of all known descriptors, sorted by track
// identifier.
func (m *Manager) Descriptors() []track.Descriptor {
	m.mu.Lock()

	ret := make([]track.Descriptor, 0, len(m.entries))
	for _, e := range m.entries {
		ret = append(ret, *e.desc)
	}

	m.mu.Unlock()

	sort.Slice(ret, func(i, j int) bool {
		return ret[i].TrackID() < ret[j].TrackID()
	})

	return ret
}

// Close tears down every subscription and stops the event loop. Safe to call
// multiple times.
func (m *Manager) Close() error {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()

		return nil
	}

	m.closed = true

	errs := multierr.New()

	for _, e := range m.entries {
		errs.Add(errors.Trace(m.teardownLocked(e)))
	}

	m.entries = map[identifiers.TrackID]*entry{}
	prometheusTracksKnown.Set(0)

	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	return errors.Trace(errs.Err())
}
