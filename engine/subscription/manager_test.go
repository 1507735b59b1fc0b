package subscription_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
	"github.com/soundmap/soundmap/engine/multierr"
	"github.com/soundmap/soundmap/engine/participant"
	"github.com/soundmap/soundmap/engine/subscription"
	"github.com/soundmap/soundmap/engine/track"
	"github.com/soundmap/soundmap/engine/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const waitFor = time.Second

const tick = 5 * time.Millisecond

type fakeStream struct {
	closes int32
}

func (f *fakeStream) Streamer() beep.Streamer {
	return beep.Silence(-1)
}

func (f *fakeStream) SampleRate() beep.SampleRate {
	return 48000
}

func (f *fakeStream) Close() error {
	atomic.AddInt32(&f.closes, 1)

	return nil
}

func (f *fakeStream) closeCount() int {
	return int(atomic.LoadInt32(&f.closes))
}

type fakeTransport struct {
	events chan transport.TrackEvent

	// gate, when set, holds Subscribe until released so tests can race
	// unpublication against an in-flight round trip.
	gate chan struct{}

	mu             sync.Mutex
	subscribeErr   error
	subscribeCalls int
	streams        map[identifiers.TrackID]*fakeStream
	unsubscribed   []identifiers.TrackID
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events:  make(chan transport.TrackEvent),
		streams: map[identifiers.TrackID]*fakeStream{},
	}
}

func (f *fakeTransport) ClientID() identifiers.ClientID {
	return "self"
}

func (f *fakeTransport) TrackEvents() <-chan transport.TrackEvent {
	return f.events
}

func (f *fakeTransport) Subscribe(ctx context.Context, trackID identifiers.TrackID) (transport.MediaStream, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribeCalls++

	if f.subscribeErr != nil {
		return nil, errors.Trace(f.subscribeErr)
	}

	stream := &fakeStream{}
	f.streams[trackID] = stream

	return stream, nil
}

func (f *fakeTransport) Unsubscribe(trackID identifiers.TrackID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unsubscribed = append(f.unsubscribed, trackID)

	return nil
}

func (f *fakeTransport) Close() error {
	return nil
}

func (f *fakeTransport) setSubscribeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribeErr = err
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.subscribeCalls
}

func (f *fakeTransport) stream(trackID identifiers.TrackID) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.streams[trackID]
}

func (f *fakeTransport) unsubscribeCount(trackID identifiers.TrackID) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0

	for _, id := range f.unsubscribed {
		if id == trackID {
			n++
		}
	}

	return n
}

func (f *fakeTransport) publish(trackID identifiers.TrackID, peerID identifiers.PeerID, label string) {
	f.events <- transport.TrackEvent{
		Track: transport.NewSimpleTrack(trackID, peerID, label),
		Type:  transport.TrackEventTypePublished,
	}
}

func (f *fakeTransport) unpublish(trackID identifiers.TrackID, peerID identifiers.PeerID, label string) {
	f.events <- transport.TrackEvent{
		Track: transport.NewSimpleTrack(trackID, peerID, label),
		Type:  transport.TrackEventTypeUnpublished,
	}
}

// fakeVoice mimics the spatial graph contract: it owns streams it was handed
// and closes them on removal.
type fakeVoice struct {
	mu        sync.Mutex
	added     map[identifiers.TrackID]transport.MediaStream
	removed   []identifiers.TrackID
	positions map[identifiers.TrackID]geo.Position
	muted     map[identifiers.TrackID]bool
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{
		added:     map[identifiers.TrackID]transport.MediaStream{},
		positions: map[identifiers.TrackID]geo.Position{},
		muted:     map[identifiers.TrackID]bool{},
	}
}

func (v *fakeVoice) AddSource(trackID identifiers.TrackID, stream transport.MediaStream) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.added[trackID] = stream

	return nil
}

func (v *fakeVoice) RemoveSource(trackID identifiers.TrackID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	stream, ok := v.added[trackID]
	if !ok {
		return nil
	}

	delete(v.added, trackID)
	v.removed = append(v.removed, trackID)

	return errors.Trace(stream.Close())
}

func (v *fakeVoice) UpdateSourcePosition(trackID identifiers.TrackID, position geo.Position) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.positions[trackID] = position
}

func (v *fakeVoice) SetSourceMuted(trackID identifiers.TrackID, muted bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.muted[trackID] = muted
}

func (v *fakeVoice) has(trackID identifiers.TrackID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, ok := v.added[trackID]

	return ok
}

func (v *fakeVoice) position(trackID identifiers.TrackID) (geo.Position, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.positions[trackID]

	return p, ok
}

func (v *fakeVoice) isMuted(trackID identifiers.TrackID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.muted[trackID]
}

type fakeMusic struct {
	mu      sync.Mutex
	playing map[identifiers.TrackID]transport.MediaStream
	stopped []identifiers.TrackID
}

func newFakeMusic() *fakeMusic {
	return &fakeMusic{
		playing: map[identifiers.TrackID]transport.MediaStream{},
	}
}

func (m *fakeMusic) Play(trackID identifiers.TrackID, stream transport.MediaStream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.playing[trackID] = stream

	return nil
}

func (m *fakeMusic) Stop(trackID identifiers.TrackID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream, ok := m.playing[trackID]
	if !ok {
		return nil
	}

	delete(m.playing, trackID)
	m.stopped = append(m.stopped, trackID)

	return errors.Trace(stream.Close())
}

func (m *fakeMusic) has(trackID identifiers.TrackID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.playing[trackID]

	return ok
}

type fixture struct {
	tr       *fakeTransport
	registry *participant.Registry
	voice    *fakeVoice
	music    *fakeMusic
	manager  *subscription.Manager
}

func newFixture(t *testing.T, config subscription.Config) *fixture {
	t.Helper()

	log := logger.NewFromEnv("LOG")

	f := &fixture{
		tr:       newFakeTransport(),
		registry: participant.NewRegistry(log, "self"),
		voice:    newFakeVoice(),
		music:    newFakeMusic(),
	}

	f.manager = subscription.NewManager(log, f.tr, f.registry, f.voice, f.music, config)

	// Cleanups run last registered first: the goroutine check must run after
	// everything has been closed.
	t.Cleanup(func() {
		goleak.VerifyNone(t)
	})

	t.Cleanup(func() {
		assert.NoError(t, f.manager.Close())
		f.registry.Close()
	})

	return f
}

func (f *fixture) waitForState(t *testing.T, trackID identifiers.TrackID, state track.SubscriptionState) {
	t.Helper()

	require.Eventually(t, func() bool {
		d, ok := f.manager.Descriptor(trackID)

		return ok && d.State() == state
	}, waitFor, tick, "waiting for track %s to reach %s", trackID, state)
}

func TestManager_AutoSubscribeRoutesVoice(t *testing.T) {
	f := newFixture(t, subscription.Config{AutoSubscribe: true})

	position := geo.Position{Lat: 45, Lng: 16}

	_, err := f.registry.Upsert("peerA", participant.Update{Position: &position})
	require.NoError(t, err)

	f.tr.publish("t1", "peerA", "mic-1")

	f.waitForState(t, "t1", track.StateSubscribed)

	require.Eventually(t, func() bool {
		return f.voice.has("t1")
	}, waitFor, tick)

	// The source was seeded with the owner's last known position.
	seeded, ok := f.voice.position("t1")
	require.True(t, ok)
	assert.Equal(t, position, seeded)

	assert.False(t, f.music.has("t1"))

	// The registry reflects the published track on its owner.
	state, ok := f.registry.Get("peerA")
	require.True(t, ok)
	require.Contains(t, state.Tracks, identifiers.TrackID("t1"))
	assert.Equal(t, track.LaneVoice, state.Tracks["t1"].Lane)
}

func TestManager_MusicLaneBypassesSpatialGraph(t *testing.T) {
	f := newFixture(t, subscription.Config{AutoSubscribe: true})

	f.tr.publish("t1", "peerA", "music-warehouse-set")

	f.waitForState(t, "t1", track.StateSubscribed)

	require.Eventually(t, func() bool {
		return f.music.has("t1")
	}, waitFor, tick)

	assert.False(t, f.voice.has("t1"))

	d, ok := f.manager.Descriptor("t1")
	require.True(t, ok)
	assert.Equal(t, track.LaneMusic, d.Lane())
}

func TestManager_FailedSubscribeRetriesOnlyManually(t *testing.T) {
	f := newFixture(t, subscription.Config{AutoSubscribe: true})

	f.tr.setSubscribeErr(errors.New("ice gathering failed"))

	f.tr.publish("t1", "peerA", "mic-1")

	f.waitForState(t, "t1", track.StateFailed)

	// No audio node was created and no automatic retry happens.
	assert.False(t, f.voice.has("t1"))
	assert.Equal(t, 1, f.tr.calls())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.tr.calls())

	// An explicit retry restarts the machine and succeeds.
	f.tr.setSubscribeErr(nil)
	require.NoError(t, f.manager.Subscribe("t1"))

	f.waitForState(t, "t1", track.StateSubscribed)

	require.Eventually(t, func() bool {
		return f.voice.has("t1")
	}, waitFor, tick)
}

func TestManager_UnpublishTearsDownBeforeForgetting(t *testing.T) {
	f := newFixture(t, subscription.Config{AutoSubscribe: true})

	f.tr.publish("t1", "peerA", "mic-1")
	f.waitForState(t, "t1", track.StateSubscribed)

	f.tr.unpublish("t1", "peerA", "mic-1")

	require.Eventually(t, func() bool {
		_, ok := f.manager.Descriptor("t1")

		return !ok
	}, waitFor, tick)

	assert.False(t, f.voice.has("t1"))
	assert.Equal(t, 1, f.tr.stream("t1").closeCount())
	assert.Equal(t, 1, f.tr.unsubscribeCount("t1"))

	// The owner's registry entry no longer lists the track.
	state, ok := f.registry.Get("peerA")
	require.True(t, ok)
	assert.NotContains(t, state.Tracks, identifiers.TrackID("t1"))
}

func TestManager_LateSubscribeResultDiscarded(t *testing.T) {
	f := newFixture(t, subscription.Config{AutoSubscribe: true})
	f.tr.gate = make(chan struct{})

	f.tr.publish("t1", "peerA", "mic-1")
	f.waitForState(t, "t1", track.StateSubscribing)

	// The track disappears while the subscribe round trip is in flight.
	f.tr.unpublish("t1", "peerA", "mic-1")

	require.Eventually(t, func() bool {
		_, ok := f.manager.Descriptor("t1")

		return !ok
	}, waitFor, tick)

	// The stale result lands and must not create any audio node.
	close(f.tr.gate)

	require.Eventually(t, func() bool {
		stream := f.tr.stream("t1")

		return stream != nil && stream.closeCount() == 1
	}, waitFor, tick)

	assert.Equal(t, 1, f.tr.unsubscribeCount("t1"))
	assert.False(t, f.voice.has("t1"))
	assert.False(t, f.music.has("t1"))
}

func TestManager_UnsubscribeAndResubscribe(t *testing.T) {
	f := newFixture(t, subscription.Config{AutoSubscribe: true})

	f.tr.publish("t1", "peerA", "mic-1")
	f.waitForState(t, "t1", track.StateSubscribed)

	require.NoError(t, f.manager.Unsubscribe("t1"))

	d, ok := f.manager.Descriptor("t1")
	require.True(t, ok)
	assert.Equal(t, track.StateUnsubscribed, d.State())
	assert.False(t, f.voice.has("t1"))
	assert.Equal(t, 1, f.tr.stream("t1").closeCount())

	// Unsubscribing again is a no-op.
	require.NoError(t, f.manager.Unsubscribe("t1"))
	assert.Equal(t, 1, f.tr.stream("t1").closeCount())

	// The track is still published and can be subscribed again.
	require.NoError(t, f.manager.Subscribe("t1"))
	f.waitForState(t, "t1", track.StateSubscribed)

	require.Eventually(t, func() bool {
		return f.voice.has("t1")
	}, waitFor, tick)
}

func TestManager_SubscribeUnknownTrack(t *testing.T) {
	f := newFixture(t, subscription.Config{})

	err := f.manager.Subscribe("nope")
	assert.True(t, multierr.Is(err, subscription.ErrUnknownTrack))

	err = f.manager.Unsubscribe("nope")
	assert.True(t, multierr.Is(err, subscription.ErrUnknownTrack))
}

func TestManager_SetMuted(t *testing.T) {
	f := newFixture(t, subscription.Config{AutoSubscribe: true})

	f.tr.publish("t1", "peerA", "mic-1")
	f.waitForState(t, "t1", track.StateSubscribed)

	require.NoError(t, f.manager.SetMuted("t1", true))
	assert.True(t, f.voice.isMuted("t1"))

	d, ok := f.manager.Descriptor("t1")
	require.True(t, ok)
	assert.True(t, d.Muted())

	state, ok := f.registry.Get("peerA")
	require.True(t, ok)
	assert.True(t, state.Tracks["t1"].Muted)

	require.NoError(t, f.manager.SetMuted("t1", false))
	assert.False(t, f.voice.isMuted("t1"))
}

func TestManager_ManualPolicyWaitsForSubscribe(t *testing.T) {
	f := newFixture(t, subscription.Config{AutoSubscribe: false})

	f.tr.publish("t1", "peerA", "mic-1")

	f.waitForState(t, "t1", track.StateUnsubscribed)
	assert.Equal(t, 0, f.tr.calls())

	require.NoError(t, f.manager.Subscribe("t1"))
	f.waitForState(t, "t1", track.StateSubscribed)
}

func TestManager_CloseTearsDownEverything(t *testing.T) {
	defer goleak.VerifyNone(t)

	log := logger.NewFromEnv("LOG")

	tr := newFakeTransport()
	registry := participant.NewRegistry(log, "self")

	defer registry.Close()

	voice := newFakeVoice()
	musicSink := newFakeMusic()

	m := subscription.NewManager(log, tr, registry, voice, musicSink, subscription.Config{AutoSubscribe: true})

	tr.publish("t1", "peerA", "mic-1")
	tr.publish("t2", "peerB", "music-dj")

	require.Eventually(t, func() bool {
		return voice.has("t1") && musicSink.has("t2")
	}, waitFor, tick)

	require.NoError(t, m.Close())

	assert.False(t, voice.has("t1"))
	assert.False(t, musicSink.has("t2"))
	assert.Equal(t, 1, tr.stream("t1").closeCount())
	assert.Equal(t, 1, tr.stream("t2").closeCount())

	// Close is idempotent.
	require.NoError(t, m.Close())
}
