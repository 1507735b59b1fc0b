// Package session wires the engine together for one listener: the position
// feed flows through the throttler into the participant registry, registry
// changes retune the spatial audio graph, and the subscription manager routes
// remote tracks into the graph or the music player. The session owns the
// lifecycle of all of it and exposes the imperative surface the presentation
// layer calls.
package session

import (
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/audio"
	"github.com/soundmap/soundmap/engine/clock"
	"github.com/soundmap/soundmap/engine/config"
	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/geofeed"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
	"github.com/soundmap/soundmap/engine/multierr"
	"github.com/soundmap/soundmap/engine/music"
	"github.com/soundmap/soundmap/engine/participant"
	"github.com/soundmap/soundmap/engine/subscription"
	"github.com/soundmap/soundmap/engine/throttle"
	"github.com/soundmap/soundmap/engine/track"
	"github.com/soundmap/soundmap/engine/transport"
	"github.com/soundmap/soundmap/engine/uuid"
)

// ErrNoListenerPosition is returned from queries that need the local
// listener's position before it has been reported.
var ErrNoListenerPosition = errors.New("listener position unknown")

// Params carries the session's collaborators. Output is optional; when nil
// the machine's speaker is used.
type Params struct {
	Log       logger.Logger
	Clock     clock.Clock
	Config    config.Config
	Room      identifiers.RoomID
	Transport transport.Transport
	Feed      geofeed.Feed
	Output    audio.Output
}

// Session is one listener's engine instance.
type Session struct {
	id     string
	log    logger.Logger
	room   identifiers.RoomID
	config config.Config

	tr         transport.Transport
	feed       geofeed.Feed
	registry   *participant.Registry
	throttler  *throttle.PositionThrottler
	controller *audio.Controller
	player     *music.Player
	manager    *subscription.Manager

	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New assembles and starts a session. Audio output failure is not fatal: the
// session comes up degraded and EnableAudio can retry later.
func New(params Params) (*Session, error) {
	log := params.Log.WithNamespaceAppended("session")

	clk := params.Clock
	if clk == nil {
		clk = clock.New()
	}

	out := params.Output
	if out == nil {
		out = audio.NewSpeakerOutput(time.Duration(params.Config.Audio.BufferMs) * time.Millisecond)
	}

	selfID := params.Transport.ClientID()

	s := &Session{
		id:     uuid.NewBase62(),
		log:    log,
		room:   params.Room,
		config: params.Config,
		tr:     params.Transport,
		feed:   params.Feed,
	}

	s.registry = participant.NewRegistry(log, selfID)

	s.controller = audio.NewController(log, clk, out, audio.Config{
		SampleRate: beep.SampleRate(params.Config.Audio.SampleRate),
		Smoothing:  time.Duration(params.Config.Audio.SmoothingMs) * time.Millisecond,
		Rolloff: audio.RolloffConfig{
			RefDistance: params.Config.Audio.RefDistance,
			MaxDistance: params.Config.Audio.MaxDistance,
			Factor:      params.Config.Audio.RolloffFactor,
		},
	})

	s.player = music.NewPlayer(log, out, beep.SampleRate(params.Config.Audio.SampleRate))

	s.throttler = throttle.NewPositionThrottler(
		log,
		clk,
		time.Duration(params.Config.Throttle.IntervalMs)*time.Millisecond,
		s.applyPosition,
	)

	s.manager = subscription.NewManager(log, params.Transport, s.registry, s.controller, s.player, subscription.Config{
		AutoSubscribe:    params.Config.Subscription.AutoSubscribe,
		SubscribeTimeout: time.Duration(params.Config.Subscription.TimeoutMs) * time.Millisecond,
	})

	if err := s.EnableAudio(); err != nil {
		// Degraded: no audio until a later EnableAudio succeeds.
		log.Warn("Audio output unavailable, starting degraded", logger.Ctx{
			"error": err,
		})
	}

	events, err := s.registry.SubscribeToEvents(identifiers.ClientID("session-" + s.id))
	if err != nil {
		return nil, errors.Trace(err)
	}

	s.wg.Add(2)

	go s.feedLoop()
	go s.registryLoop(events)

	log.Info("Session started", logger.Ctx{
		"session_id": s.id,
		"client_id":  selfID,
		"room":       s.room,
	})

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// ClientID returns the local listener's transport identity.
func (s *Session) ClientID() identifiers.ClientID {
	return s.registry.SelfID()
}

// feedLoop forwards position reports into the throttler. The loop ends when
// the feed closes.
func (s *Session) feedLoop() {
	defer s.wg.Done()

	for update := range s.feed.Updates() {
		if update.Left {
			s.registry.Remove(update.ClientID)

			continue
		}

		s.throttler.Push(update.ClientID, update.Position)
	}
}

// applyPosition receives the throttler's coalesced updates and commits them
// to the registry. Invalid positions are rejected there and logged here.
func (s *Session) applyPosition(clientID identifiers.ClientID, position geo.Position) {
	if _, err := s.registry.Upsert(clientID, participant.Update{Position: &position}); err != nil {
		s.log.Warn("Dropped position update", logger.Ctx{
			"client_id": clientID,
			"error":     err,
		})
	}
}

// registryLoop retunes the audio graph on registry changes: the listener's
// own position moves the whole soundstage, other participants' positions move
// their voice sources.
func (s *Session) registryLoop(events <-chan participant.Event) {
	defer s.wg.Done()

	for event := range events {
		if event.Type != participant.EventTypeUpsert || !event.State.HasPosition {
			continue
		}

		if event.State.ClientID == s.registry.SelfID() {
			s.controller.UpdateListenerPosition(event.State.Position)

			continue
		}

		for trackID, ts := range event.State.Tracks {
			if ts.Lane == track.LaneVoice {
				s.controller.UpdateSourcePosition(trackID, event.State.Position)
			}
		}
	}
}

// UpdateListenerPosition reports the local listener's position. It flows
// through the same throttled path as remote reports and is published
// upstream for other participants.
func (s *Session) UpdateListenerPosition(position geo.Position) error {
	if !position.Valid() {
		return errors.Annotatef(participant.ErrInvalidPosition, "listener position")
	}

	if err := s.feed.PublishSelf(position); err != nil {
		s.log.Warn("Publish self position", logger.Ctx{
			"error": err,
		})
	}

	s.throttler.Push(s.registry.SelfID(), position)

	return nil
}

// SetProfile updates the local listener's display metadata.
func (s *Session) SetProfile(update participant.Update) error {
	_, err := s.registry.Upsert(s.registry.SelfID(), update)

	return errors.Trace(err)
}

// EnableAudio starts or retries audio output, typically on a user gesture.
func (s *Session) EnableAudio() error {
	errs := multierr.New()

	errs.Add(errors.Trace(s.controller.Initialize()))
	errs.Add(errors.Trace(s.player.EnableAudio()))

	return errors.Trace(errs.Err())
}

// SetMasterVolume scales all spatialized voice output, clamped to [0, 1].
func (s *Session) SetMasterVolume(level float64) {
	s.controller.SetMasterVolume(level)
}

// SetMusicVolume scales all music output, clamped to [0, 1].
func (s *Session) SetMusicVolume(level float64) {
	s.player.SetVolume(level)
}

// SetSourceVolume scales one voice source on top of its distance
// attenuation, clamped to [0, 1].
func (s *Session) SetSourceVolume(trackID identifiers.TrackID, level float64) {
	s.controller.SetSourceVolume(trackID, level)
}

// Subscribe requests media for a published track; a failed track is retried.
func (s *Session) Subscribe(trackID identifiers.TrackID) error {
	return errors.Trace(s.manager.Subscribe(trackID))
}

// Unsubscribe tears down an active subscription, keeping the track available.
func (s *Session) Unsubscribe(trackID identifiers.TrackID) error {
	return errors.Trace(s.manager.Unsubscribe(trackID))
}

// SetTrackMuted silences or restores one track without unsubscribing.
func (s *Session) SetTrackMuted(trackID identifiers.TrackID, muted bool) error {
	return errors.Trace(s.manager.SetMuted(trackID, muted))
}

// Snapshot returns all known participants.
func (s *Session) Snapshot() []participant.State {
	return s.registry.Snapshot()
}

// Participant returns one participant's state.
func (s *Session) Participant(clientID identifiers.ClientID) (participant.State, bool) {
	return s.registry.Get(clientID)
}

// Nearby returns participants within radius meters of the listener, sorted
// by distance.
func (s *Session) Nearby(radius float64) ([]participant.Nearby, error) {
	self, ok := s.registry.Get(s.registry.SelfID())
	if !ok || !self.HasPosition {
		return nil, errors.Trace(ErrNoListenerPosition)
	}

	return s.registry.Nearest(self.Position, radius), nil
}

// DistanceTo returns the distance in meters from the listener to a
// participant; false when either position is unknown.
func (s *Session) DistanceTo(clientID identifiers.ClientID) (float64, bool) {
	return s.registry.DistanceTo(clientID)
}

// Descriptors lists the bookkeeping records of all known tracks.
func (s *Session) Descriptors() []track.Descriptor {
	return s.manager.Descriptors()
}

// AudioReady returns true when music playback has been unblocked.
func (s *Session) AudioReady() bool {
	return s.player.Ready()
}

// Close tears the session down in dependency order: stop the inflow, then
// the subscriptions and transport, then the audio graph, then the registry.
// Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return nil
	}

	s.closed = true

	s.mu.Unlock()

	errs := multierr.New()

	errs.Add(errors.Trace(s.feed.Close()))

	s.throttler.Close()

	errs.Add(errors.Trace(s.manager.Close()))
	errs.Add(errors.Trace(s.tr.Close()))
	errs.Add(errors.Trace(s.controller.Destroy()))
	errs.Add(errors.Trace(s.player.Close()))

	if err := s.registry.UnsubscribeFromEvents(identifiers.ClientID("session-" + s.id)); err != nil {
		s.log.Warn("Unsubscribe registry events", logger.Ctx{
			"error": err,
		})
	}

	s.registry.Close()

	s.wg.Wait()

	s.log.Info("Session closed", logger.Ctx{
		"session_id": s.id,
	})

	return errors.Trace(errs.Err())
}
