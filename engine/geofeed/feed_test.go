package geofeed_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/geofeed"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
	"github.com/soundmap/soundmap/engine/multierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"nhooyr.io/websocket"
)

const selfID identifiers.ClientID = "self"

func nextUpdate(t *testing.T, ch <-chan geofeed.Update) geofeed.Update {
	t.Helper()

	select {
	case update, ok := <-ch:
		require.True(t, ok, "updates channel closed")

		return update
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")

		return geofeed.Update{}
	}
}

func TestMemoryFeed(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := geofeed.NewMemoryFeed(logger.NewFromEnv("LOG"), selfID)

	require.NoError(t, f.Push(geofeed.Update{
		ClientID: "a",
		Position: geo.Position{Lat: 45, Lng: 16},
	}))

	update := nextUpdate(t, f.Updates())
	assert.Equal(t, identifiers.ClientID("a"), update.ClientID)
	assert.Equal(t, geo.Position{Lat: 45, Lng: 16}, update.Position)

	// The local listener's reports flow through the same path.
	require.NoError(t, f.PublishSelf(geo.Position{Lat: 1, Lng: 2}))

	update = nextUpdate(t, f.Updates())
	assert.Equal(t, selfID, update.ClientID)

	require.NoError(t, f.Close())

	err := f.Push(geofeed.Update{ClientID: "a"})
	assert.True(t, multierr.Is(err, geofeed.ErrFeedClosed))

	_, ok := <-f.Updates()
	assert.False(t, ok)

	// Close is idempotent.
	require.NoError(t, f.Close())
}

func TestMemoryFeed_CloseReleasesBlockedPush(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := geofeed.NewMemoryFeed(logger.NewFromEnv("LOG"), selfID)

	// Fill the buffer with nobody draining.
	for i := 0; i < 64; i++ {
		require.NoError(t, f.Push(geofeed.Update{ClientID: "a"}))
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		// Parks on the full buffer until Close releases it.
		err := f.Push(geofeed.Update{ClientID: "b"})
		assert.True(t, multierr.Is(err, geofeed.ErrFeedClosed))
	}()

	time.Sleep(10 * time.Millisecond)

	require.NoError(t, f.Close())
	wg.Wait()
}

type fakeConn struct {
	incoming chan []byte

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data := <-c.incoming:
		return websocket.MessageText, data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, typ websocket.MessageType, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := make([]byte, len(msg))
	copy(data, msg)
	c.written = append(c.written, data)

	return nil
}

func (c *fakeConn) lastWritten() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.written) == 0 {
		return nil
	}

	return c.written[len(c.written)-1]
}

func (c *fakeConn) send(t *testing.T, update geofeed.Update) {
	t.Helper()

	data, err := json.Marshal(update)
	require.NoError(t, err)

	select {
	case c.incoming <- data:
	case <-time.After(time.Second):
		t.Fatal("timed out sending to fake conn")
	}
}

func TestWSFeed_ReceivesAndSkipsSelfEcho(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn := newFakeConn()
	f := geofeed.NewWSFeed(logger.NewFromEnv("LOG"), selfID, conn)

	defer func() {
		assert.NoError(t, f.Close())
	}()

	// Our own echo arrives first and must be dropped.
	conn.send(t, geofeed.Update{ClientID: selfID, Position: geo.Position{Lat: 1}})
	conn.send(t, geofeed.Update{ClientID: "a", Position: geo.Position{Lat: 45, Lng: 16}})

	update := nextUpdate(t, f.Updates())
	assert.Equal(t, identifiers.ClientID("a"), update.ClientID)
	assert.Equal(t, geo.Position{Lat: 45, Lng: 16}, update.Position)

	conn.send(t, geofeed.Update{ClientID: "a", Left: true})

	update = nextUpdate(t, f.Updates())
	assert.True(t, update.Left)
}

func TestWSFeed_PublishSelf(t *testing.T) {
	defer goleak.VerifyNone(t)

	conn := newFakeConn()
	f := geofeed.NewWSFeed(logger.NewFromEnv("LOG"), selfID, conn)

	require.NoError(t, f.PublishSelf(geo.Position{Lat: 45, Lng: 16}))

	var update geofeed.Update

	require.NoError(t, json.Unmarshal(conn.lastWritten(), &update))
	assert.Equal(t, selfID, update.ClientID)
	assert.Equal(t, geo.Position{Lat: 45, Lng: 16}, update.Position)

	require.NoError(t, f.Close())

	err := f.PublishSelf(geo.Position{Lat: 1})
	assert.True(t, multierr.Is(err, geofeed.ErrFeedClosed))

	// The read loop has shut down and the channel is closed.
	_, ok := <-f.Updates()
	assert.False(t, ok)
}
