// Package music plays broadcast music tracks. Unlike voice, music is global:
// every listener hears it at the same volume no matter where on the map they
// stand, so streams bypass the spatial graph and mix straight into the
// output.
package music

import (
	"sync"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/atomic"
	"github.com/soundmap/soundmap/engine/audio"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
	"github.com/soundmap/soundmap/engine/multierr"
	"github.com/soundmap/soundmap/engine/transport"
)

// ErrClosed is returned when streams are played on a closed player.
var ErrClosed = errors.New("music player closed")

// Player mixes music streams into the shared output. All methods are safe
// for concurrent use.
//
// Playback can be blocked by the platform until a user gesture arrives; until
// EnableAudio succeeds, streams queue instead of playing and start in arrival
// order once the block lifts.
type Player struct {
	log        logger.Logger
	out        audio.Output
	sampleRate beep.SampleRate

	mu      sync.Mutex
	closed  bool
	ready   bool
	volume  float64
	active  map[identifiers.TrackID]*musicStream
	pending []*musicStream
}

// musicStream is one playing music track. The stopped flag makes the mixer
// drop it on the next pull; the gain node carries the shared music volume.
type musicStream struct {
	trackID  identifiers.TrackID
	stream   transport.MediaStream
	gainNode *effects.Gain
	stopped  atomic.Bool
}

func (m *musicStream) Stream(samples [][2]float64) (int, bool) {
	if m.stopped.Get() {
		return 0, false
	}

	return m.gainNode.Stream(samples)
}

func (m *musicStream) Err() error {
	if m.stopped.Get() {
		return nil
	}

	return m.gainNode.Err()
}

// NewPlayer creates a music player rendering at sampleRate through out. The
// player starts blocked; call EnableAudio to start playback.
func NewPlayer(log logger.Logger, out audio.Output, sampleRate beep.SampleRate) *Player {
	if sampleRate == 0 {
		sampleRate = audio.DefaultSampleRate
	}

	return &Player{
		log:        log.WithNamespaceAppended("music"),
		out:        out,
		sampleRate: sampleRate,
		volume:     1,
		active:     map[identifiers.TrackID]*musicStream{},
	}
}

// EnableAudio attempts to unblock playback, typically in response to a user
// gesture. On success all queued streams start; once playback is unblocked
// further calls are no-ops and the gesture hook can be disarmed.
func (p *Player) EnableAudio() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.Trace(ErrClosed)
	}

	if p.ready {
		return nil
	}

	if err := p.out.Init(p.sampleRate); err != nil {
		return errors.Trace(err)
	}

	p.ready = true

	for _, ms := range p.pending {
		p.startLocked(ms)
	}

	p.pending = nil

	return nil
}

// Ready returns true once playback has been unblocked.
func (p *Player) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ready
}

// Play routes a subscribed music stream to the output at the shared music
// volume. While playback is blocked the stream queues; it is not dropped.
// Playing a track that is already playing replaces it.
func (p *Player) Play(trackID identifiers.TrackID, stream transport.MediaStream) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.Trace(ErrClosed)
	}

	if old, ok := p.active[trackID]; ok {
		p.log.Warn("Replacing playing music stream", logger.Ctx{
			"track_id": trackID,
		})

		if err := p.stopLocked(old); err != nil {
			p.log.Error("Stop replaced music stream", errors.Trace(err), nil)
		}
	}

	streamer := stream.Streamer()
	if sr := stream.SampleRate(); sr != p.sampleRate {
		streamer = beep.Resample(4, sr, p.sampleRate, streamer)
	}

	ms := &musicStream{
		trackID: trackID,
		stream:  stream,
		gainNode: &effects.Gain{
			Streamer: streamer,
			Gain:     p.volume - 1,
		},
	}

	if !p.ready {
		p.pending = append(p.pending, ms)

		p.log.Info("Music stream queued until playback unblocks", logger.Ctx{
			"track_id": trackID,
		})

		return nil
	}

	p.startLocked(ms)

	return nil
}

func (p *Player) startLocked(ms *musicStream) {
	p.active[ms.trackID] = ms
	prometheusMusicStreamsActive.Set(float64(len(p.active)))

	p.out.Play(ms)

	p.log.Info("Music stream playing", logger.Ctx{
		"track_id": ms.trackID,
	})
}

// Stop ends playback of one track and releases its media stream. Stopping an
// unknown track is a no-op.
func (p *Player) Stop(trackID identifiers.TrackID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ms, ok := p.active[trackID]; ok {
		delete(p.active, trackID)
		prometheusMusicStreamsActive.Set(float64(len(p.active)))

		return errors.Trace(p.stopLocked(ms))
	}

	for i, ms := range p.pending {
		if ms.trackID == trackID {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)

			return errors.Trace(p.stopLocked(ms))
		}
	}

	return nil
}

func (p *Player) stopLocked(ms *musicStream) error {
	ms.stopped.Set(true)

	err := ms.stream.Close()

	p.log.Info("Music stream stopped", logger.Ctx{
		"track_id": ms.trackID,
	})

	return errors.Trace(err)
}

// SetVolume sets the shared music volume, clamped to [0, 1]. It applies to
// every playing and queued stream alike.
func (p *Player) SetVolume(level float64) {
	switch {
	case level < 0:
		level = 0
	case level > 1:
		level = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.volume = level

	p.out.Lock()

	for _, ms := range p.active {
		ms.gainNode.Gain = level - 1
	}

	for _, ms := range p.pending {
		ms.gainNode.Gain = level - 1
	}

	p.out.Unlock()
}

// Volume returns the shared music volume.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.volume
}

// ActiveCount returns the number of streams currently playing.
func (p *Player) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.active)
}

// PendingCount returns the number of streams queued behind the playback
// block.
func (p *Player) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.pending)
}

// Close stops everything. Safe to call multiple times.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	errs := multierr.New()

	for _, ms := range p.active {
		errs.Add(errors.Trace(p.stopLocked(ms)))
	}

	for _, ms := range p.pending {
		errs.Add(errors.Trace(p.stopLocked(ms)))
	}

	p.active = map[identifiers.TrackID]*musicStream{}
	p.pending = nil
	prometheusMusicStreamsActive.Set(0)

	return errors.Trace(errs.Err())
}
