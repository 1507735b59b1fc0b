package participant_test

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
	"github.com/soundmap/soundmap/engine/multierr"
	"github.com/soundmap/soundmap/engine/participant"
	"github.com/soundmap/soundmap/engine/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const selfID identifiers.ClientID = "self"

func position(lat, lng float64) *geo.Position {
	return &geo.Position{Lat: lat, Lng: lng}
}

func nextEvent(t *testing.T, ch <-chan participant.Event) participant.Event {
	t.Helper()

	select {
	case event, ok := <-ch:
		require.True(t, ok, "event channel closed")

		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for registry event")

		return participant.Event{}
	}
}

func TestRegistry_UpsertEmitsOnlyOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := participant.NewRegistry(logger.NewFromEnv("LOG"), selfID)
	defer r.Close()

	events, err := r.SubscribeToEvents("test")
	require.NoError(t, err)

	changed, err := r.Upsert("a", participant.Update{Position: position(45, 16)})
	require.NoError(t, err)
	assert.True(t, changed)

	event := nextEvent(t, events)
	assert.Equal(t, participant.EventTypeUpsert, event.Type)
	assert.Equal(t, identifiers.ClientID("a"), event.State.ClientID)
	assert.Equal(t, geo.Position{Lat: 45, Lng: 16}, event.State.Position)

	// A deep-equal update changes nothing and emits nothing.
	changed, err = r.Upsert("a", participant.Update{Position: position(45, 16)})
	require.NoError(t, err)
	assert.False(t, changed)

	// The next event observed must be the next actual change, proving the
	// redundant update produced no event in between.
	changed, err = r.Upsert("a", participant.Update{Position: position(45, 17)})
	require.NoError(t, err)
	assert.True(t, changed)

	event = nextEvent(t, events)
	assert.Equal(t, geo.Position{Lat: 45, Lng: 17}, event.State.Position)

	require.NoError(t, r.UnsubscribeFromEvents("test"))
}

func TestRegistry_MetadataUpserts(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := participant.NewRegistry(logger.NewFromEnv("LOG"), selfID)
	defer r.Close()

	username := "renata"
	publishing := true

	changed, err := r.Upsert("a", participant.Update{
		Username:          &username,
		IsPublishingMusic: &publishing,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	state, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "renata", state.Username)
	assert.True(t, state.IsPublishingMusic)
	assert.False(t, state.HasPosition)

	// Same values again: suppressed.
	changed, err = r.Upsert("a", participant.Update{
		Username:          &username,
		IsPublishingMusic: &publishing,
	})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRegistry_InvalidPositionDropped(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := participant.NewRegistry(logger.NewFromEnv("LOG"), selfID)
	defer r.Close()

	_, err := r.Upsert("a", participant.Update{Position: position(45, 16)})
	require.NoError(t, err)

	changed, err := r.Upsert("a", participant.Update{Position: position(math.NaN(), 16)})
	assert.True(t, multierr.Is(err, participant.ErrInvalidPosition))
	assert.False(t, changed)

	// The previous valid state is retained, not corrupted.
	state, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, geo.Position{Lat: 45, Lng: 16}, state.Position)
}

func TestRegistry_Nearest(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := participant.NewRegistry(logger.NewFromEnv("LOG"), selfID)
	defer r.Close()

	origin := geo.Position{Lat: 0, Lng: 0}

	_, err := r.Upsert(selfID, participant.Update{Position: &origin})
	require.NoError(t, err)

	// ~111m east.
	_, err = r.Upsert("near", participant.Update{Position: position(0, 0.001)})
	require.NoError(t, err)

	// Same distance north: a tie, broken by identity ordering.
	_, err = r.Upsert("also-near", participant.Update{Position: position(0, -0.001)})
	require.NoError(t, err)

	// ~333m away.
	_, err = r.Upsert("far", participant.Update{Position: position(0, 0.003)})
	require.NoError(t, err)

	// Way outside any reasonable radius.
	_, err = r.Upsert("elsewhere", participant.Update{Position: position(1, 1)})
	require.NoError(t, err)

	// Observed but never reported a position.
	_, err = r.Upsert("ghost", participant.Update{})
	require.NoError(t, err)

	nearby := r.Nearest(origin, 500)

	require.Len(t, nearby, 3)
	assert.Equal(t, identifiers.ClientID("also-near"), nearby[0].State.ClientID)
	assert.Equal(t, identifiers.ClientID("near"), nearby[1].State.ClientID)
	assert.Equal(t, identifiers.ClientID("far"), nearby[2].State.ClientID)

	assert.InDelta(t, 111.19, nearby[0].Distance, 0.5)
	assert.InDelta(t, nearby[0].Distance, nearby[1].Distance, 1e-9)
	assert.Less(t, nearby[1].Distance, nearby[2].Distance)

	// Radius is inclusive of everything under it, exclusive of the rest.
	assert.Len(t, r.Nearest(origin, 150), 2)
	assert.Len(t, r.Nearest(origin, 50), 0)
}

func TestRegistry_DistanceTo(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := participant.NewRegistry(logger.NewFromEnv("LOG"), selfID)
	defer r.Close()

	// Listener position unknown: every distance is unknown.
	_, ok := r.DistanceTo("a")
	assert.False(t, ok)

	_, err := r.Upsert(selfID, participant.Update{Position: position(0, 0)})
	require.NoError(t, err)

	_, err = r.Upsert("a", participant.Update{Position: position(0, 0.001)})
	require.NoError(t, err)

	d, ok := r.DistanceTo("a")
	require.True(t, ok)
	assert.InDelta(t, 111.19, d, 0.5)

	_, ok = r.DistanceTo("unknown")
	assert.False(t, ok)
}

func TestRegistry_RemoveAndTracks(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := participant.NewRegistry(logger.NewFromEnv("LOG"), selfID)
	defer r.Close()

	events, err := r.SubscribeToEvents("test")
	require.NoError(t, err)

	// Removing an absent participant is a no-op.
	r.Remove("a")

	r.SetTrack("a", participant.TrackState{TrackID: "t1", Lane: track.LaneVoice})

	event := nextEvent(t, events)
	assert.Equal(t, participant.EventTypeUpsert, event.Type)
	require.Contains(t, event.State.Tracks, identifiers.TrackID("t1"))
	assert.Equal(t, track.LaneVoice, event.State.Tracks["t1"].Lane)

	// Same track state again: suppressed.
	r.SetTrack("a", participant.TrackState{TrackID: "t1", Lane: track.LaneVoice})

	r.RemoveTrack("a", "t1")

	event = nextEvent(t, events)
	assert.NotContains(t, event.State.Tracks, identifiers.TrackID("t1"))

	r.Remove("a")

	event = nextEvent(t, events)
	assert.Equal(t, participant.EventTypeRemove, event.Type)
	assert.Equal(t, identifiers.ClientID("a"), event.State.ClientID)

	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestRegistry_CloseReleasesWedgedWriter(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := participant.NewRegistry(logger.NewFromEnv("LOG"), selfID)

	// Subscribe and never drain. The subscriber buffer fills, the fan-out
	// wedges on the subscriber, and the next writer parks on its emit.
	_, err := r.SubscribeToEvents("stalled")
	require.NoError(t, err)

	for i := 0; i < 65; i++ {
		_, err := r.Upsert(identifiers.ClientID(fmt.Sprintf("client-%d", i)), participant.Update{})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		_, err := r.Upsert("parked", participant.Update{})
		assert.NoError(t, err)
	}()

	// Let the writer reach the emit before tearing down.
	time.Sleep(10 * time.Millisecond)

	r.Close()
	wg.Wait()
}

func TestRegistry_ConcurrentWritersWithClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := participant.NewRegistry(logger.NewFromEnv("LOG"), selfID)

	events, err := r.SubscribeToEvents("drainer")
	require.NoError(t, err)

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		// Snapshots for one participant must arrive in the order the changes
		// were applied, even with writers racing teardown.
		seen := map[identifiers.ClientID]float64{}

		for event := range events {
			last := seen[event.State.ClientID]
			assert.GreaterOrEqual(t, event.State.Position.Lat, last)
			seen[event.State.ClientID] = event.State.Position.Lat
		}
	}()

	const writers = 8

	for w := 0; w < writers; w++ {
		wg.Add(1)

		go func(w int) {
			defer wg.Done()

			clientID := identifiers.ClientID(fmt.Sprintf("client-%d", w))

			for i := 0; i < 100; i++ {
				_, err := r.Upsert(clientID, participant.Update{
					Position: position(float64(i), float64(w)),
				})
				assert.NoError(t, err)

				r.SetTrack(clientID, participant.TrackState{TrackID: "t1", Lane: track.LaneVoice})
				r.RemoveTrack(clientID, "t1")
			}

			r.Remove(clientID)
		}(w)
	}

	// Tear down while writers are still active: no panic, no deadlock.
	r.Close()
	wg.Wait()

	// After Close every write is a plain no-op.
	changed, err := r.Upsert("late", participant.Update{})
	require.NoError(t, err)
	assert.False(t, changed)

	_, ok := r.Get("late")
	assert.False(t, ok)
}
