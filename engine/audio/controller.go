// Package audio implements the spatial audio graph: one output, one mixer,
// and a per-voice-source chain of gate, gain and pan nodes. Source gain
// follows the distance rolloff model; both gain and pan ramp toward their
// targets with a short time constant so retunes never click.
package audio

import (
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/clock"
	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
	"github.com/soundmap/soundmap/engine/multierr"
	"github.com/soundmap/soundmap/engine/transport"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultSampleRate    beep.SampleRate = 48000
	DefaultSmoothing                     = 50 * time.Millisecond
	DefaultRefDistance                   = 100.0
	DefaultMaxDistance                   = 500.0
	DefaultRolloffFactor                 = 1.0
)

// ErrNotInitialized is returned when sources are added before Initialize has
// succeeded.
var ErrNotInitialized = errors.New("audio graph not initialized")

// Config holds the graph tunables.
type Config struct {
	SampleRate beep.SampleRate
	Smoothing  time.Duration
	Rolloff    RolloffConfig
}

func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}

	if c.Smoothing == 0 {
		c.Smoothing = DefaultSmoothing
	}

	if c.Rolloff.RefDistance == 0 {
		c.Rolloff.RefDistance = DefaultRefDistance
	}

	if c.Rolloff.MaxDistance == 0 {
		c.Rolloff.MaxDistance = DefaultMaxDistance
	}

	if c.Rolloff.Factor == 0 {
		c.Rolloff.Factor = DefaultRolloffFactor
	}

	return c
}

// Controller owns the audio graph for one listener session. All methods are
// safe for concurrent use.
type Controller struct {
	log    logger.Logger
	clk    clock.Clock
	out    Output
	config Config

	mu          sync.Mutex
	initialized bool
	destroyed   bool
	listener    geo.Position
	hasListener bool
	masterGain  *effects.Gain
	mixer       *beep.Mixer
	sources     map[identifiers.TrackID]*sourceNode
}

// sourceNode is one voice source in the graph. Ramp state and the effects
// node parameters are only touched under the output lock, which the output
// also holds while pulling samples.
type sourceNode struct {
	trackID identifiers.TrackID
	stream  transport.MediaStream
	gate    *gate
	ramp    *rampStreamer

	position    geo.Position
	hasPosition bool
	offset      geo.Offset
	hasOffset   bool
	volume      float64
	muted       bool
}

// rampStreamer sits at the end of a source chain and re-evaluates the gain
// and pan ramps on every pull, so parameters glide between retunes without a
// dedicated timer.
type rampStreamer struct {
	streamer beep.Streamer
	clk      clock.Clock
	gainNode *effects.Gain
	panNode  *effects.Pan
	gain     *smoothedValue
	pan      *smoothedValue
}

func (r *rampStreamer) Stream(samples [][2]float64) (int, bool) {
	now := r.clk.Now()

	// effects.Gain multiplies by 1+Gain.
	r.gainNode.Gain = r.gain.valueAt(now) - 1
	r.panNode.Pan = clampPan(r.pan.valueAt(now))

	return r.streamer.Stream(samples)
}

func (r *rampStreamer) Err() error {
	return r.streamer.Err()
}

// NewController creates a graph controller. The graph produces no audio until
// Initialize succeeds.
func NewController(log logger.Logger, clk clock.Clock, out Output, config Config) *Controller {
	return &Controller{
		log:     log.WithNamespaceAppended("audio"),
		clk:     clk,
		out:     out,
		config:  config.withDefaults(),
		sources: map[identifiers.TrackID]*sourceNode{},
	}
}

// Initialize prepares the output and the mixer. Failure is not fatal to the
// session: the caller may retry on a later user gesture, for example when a
// browser-style playback block lifts.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return errors.Trace(ErrNotInitialized)
	}

	if c.initialized {
		return nil
	}

	if err := c.out.Init(c.config.SampleRate); err != nil {
		prometheusOutputInitFailures.Inc()

		return errors.Trace(err)
	}

	c.mixer = &beep.Mixer{}
	c.masterGain = &effects.Gain{
		Streamer: c.mixer,
		Gain:     0,
	}

	c.out.Play(c.masterGain)

	c.initialized = true

	c.log.Info("Audio graph initialized", logger.Ctx{
		"sample_rate": c.config.SampleRate,
	})

	return nil
}

// AddSource routes a subscribed voice stream into the graph. The source
// enters silent and unpositioned, parked as if beyond the audible radius; it
// ramps up once UpdateSourcePosition reports where it is. Adding a track that
// is already routed replaces the old chain.
func (c *Controller) AddSource(trackID identifiers.TrackID, stream transport.MediaStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized || c.destroyed {
		return errors.Trace(ErrNotInitialized)
	}

	if old, ok := c.sources[trackID]; ok {
		c.log.Warn("Replacing existing source", logger.Ctx{
			"track_id": trackID,
		})

		c.teardownLocked(old)
	}

	streamer := stream.Streamer()
	if sr := stream.SampleRate(); sr != c.config.SampleRate {
		streamer = beep.Resample(4, sr, c.config.SampleRate, streamer)
	}

	now := c.clk.Now()

	g := newGate(streamer)
	gainNode := &effects.Gain{Streamer: g, Gain: -1}
	panNode := &effects.Pan{Streamer: gainNode, Pan: 0}

	node := &sourceNode{
		trackID: trackID,
		stream:  stream,
		gate:    g,
		ramp: &rampStreamer{
			streamer: panNode,
			clk:      c.clk,
			gainNode: gainNode,
			panNode:  panNode,
			gain:     newSmoothedValue(c.config.Smoothing, 0, now),
			pan:      newSmoothedValue(c.config.Smoothing, 0, now),
		},
		volume: 1,
	}

	c.sources[trackID] = node
	prometheusSourcesActive.Set(float64(len(c.sources)))

	c.retuneLocked(node, now)

	c.out.Lock()
	c.mixer.Add(node.ramp)
	c.out.Unlock()

	c.log.Info("Source added", logger.Ctx{
		"track_id": trackID,
	})

	return nil
}

// RemoveSource tears a source out of the graph and releases its media
// stream. Removing an unknown or already-removed track is a no-op.
func (c *Controller) RemoveSource(trackID identifiers.TrackID) error {
	c.mu.Lock()

	node, ok := c.sources[trackID]
	if !ok {
		c.mu.Unlock()

		return nil
	}

	err := c.teardownLocked(node)

	c.mu.Unlock()

	return errors.Trace(err)
}

// teardownLocked closes the node and forgets it. The gate makes the mixer
// drop the chain on its next pull; no output lock is needed.
func (c *Controller) teardownLocked(node *sourceNode) error {
	node.gate.Close()

	delete(c.sources, node.trackID)
	prometheusSourcesActive.Set(float64(len(c.sources)))

	err := node.stream.Close()

	c.log.Info("Source removed", logger.Ctx{
		"track_id": node.trackID,
	})

	return errors.Trace(err)
}

// UpdateSourcePosition retunes one source after its participant moved.
// Unknown tracks and non-finite positions are ignored.
func (c *Controller) UpdateSourcePosition(trackID identifiers.TrackID, position geo.Position) {
	if !position.Valid() {
		c.log.Warn("Ignoring invalid source position", logger.Ctx{
			"track_id": trackID,
		})

		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.sources[trackID]
	if !ok {
		return
	}

	node.position = position
	node.hasPosition = true

	c.retuneLocked(node, c.clk.Now())
}

// UpdateListenerPosition retunes every source against the listener's new
// position. Non-finite positions are ignored.
func (c *Controller) UpdateListenerPosition(position geo.Position) {
	if !position.Valid() {
		c.log.Warn("Ignoring invalid listener position", nil)

		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.listener = position
	c.hasListener = true

	now := c.clk.Now()

	for _, node := range c.sources {
		c.retuneLocked(node, now)
	}
}

// SetMasterVolume scales everything the graph produces. The level is clamped
// to [0, 1].
func (c *Controller) SetMasterVolume(level float64) {
	level = clampVolume(level)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized || c.destroyed {
		return
	}

	c.out.Lock()
	c.masterGain.Gain = level - 1
	c.out.Unlock()
}

// SetSourceVolume scales one source on top of its distance attenuation. The
// level is clamped to [0, 1]. Unknown tracks are ignored.
func (c *Controller) SetSourceVolume(trackID identifiers.TrackID, level float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.sources[trackID]
	if !ok {
		return
	}

	node.volume = clampVolume(level)

	c.retuneLocked(node, c.clk.Now())
}

// SetSourceMuted silences or restores one source without tearing down its
// subscription.
func (c *Controller) SetSourceMuted(trackID identifiers.TrackID, muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.sources[trackID]
	if !ok {
		return
	}

	node.muted = muted

	c.retuneLocked(node, c.clk.Now())
}

// retuneLocked recomputes a node's offset and ramp targets. Until both the
// listener and the source have known positions the node stays parked at
// silence.
func (c *Controller) retuneLocked(node *sourceNode, now time.Time) {
	gainTarget := 0.0
	panTarget := 0.0

	node.hasOffset = false

	if c.hasListener && node.hasPosition {
		node.offset = geo.RelativeOffset(node.position, c.listener)
		node.hasOffset = true

		if !node.muted {
			gainTarget = c.config.Rolloff.Gain(node.offset.Length()) * node.volume
		}

		panTarget = panPosition(node.offset, c.config.Rolloff.RefDistance)
	}

	c.out.Lock()
	node.ramp.gain.setTarget(gainTarget, now)
	node.ramp.pan.setTarget(panTarget, now)
	c.out.Unlock()

	c.log.Trace("Source retuned", logger.Ctx{
		"track_id": node.trackID,
		"gain":     gainTarget,
		"pan":      panTarget,
	})
}

// SourceOffset returns the planar offset the source was last tuned against.
// The second return is false when the track is unknown or either position has
// not been reported yet.
func (c *Controller) SourceOffset(trackID identifiers.TrackID) (geo.Offset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.sources[trackID]
	if !ok || !node.hasOffset {
		return geo.Offset{}, false
	}

	return node.offset, true
}

// SourceGain returns the gain the source's ramp has reached right now.
func (c *Controller) SourceGain(trackID identifiers.TrackID) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.sources[trackID]
	if !ok {
		return 0, false
	}

	c.out.Lock()
	gain := node.ramp.gain.valueAt(c.clk.Now())
	c.out.Unlock()

	return gain, true
}

// SourcePan returns the pan position the source's ramp has reached right now.
func (c *Controller) SourcePan(trackID identifiers.TrackID) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.sources[trackID]
	if !ok {
		return 0, false
	}

	c.out.Lock()
	pan := node.ramp.pan.valueAt(c.clk.Now())
	c.out.Unlock()

	return pan, true
}

// SourceCount returns the number of sources currently routed.
func (c *Controller) SourceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.sources)
}

// Destroy tears down every source and releases the output. Safe to call
// multiple times.
func (c *Controller) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil
	}

	c.destroyed = true

	errs := multierr.New()

	for _, node := range c.sources {
		errs.Add(errors.Trace(node.stream.Close()))
		node.gate.Close()
	}

	c.sources = map[identifiers.TrackID]*sourceNode{}
	prometheusSourcesActive.Set(0)

	if c.initialized {
		c.initialized = false

		errs.Add(errors.Trace(c.out.Close()))
	}

	c.log.Info("Audio graph destroyed", nil)

	return errors.Trace(errs.Err())
}
