package geofeed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/juju/errors"
	"github.com/oxtoacart/bpool"
	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
	"nhooyr.io/websocket"
)

const (
	wsFeedBuffer     = 64
	wsWriteTimeout   = 5 * time.Second
	wsBufferPoolSize = 16
)

// WSWriter writes a single websocket message.
type WSWriter interface {
	Write(ctx context.Context, typ websocket.MessageType, msg []byte) error
}

// WSReader reads a single websocket message.
type WSReader interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
}

// WSReadWriter is the subset of a websocket connection the feed needs.
type WSReadWriter interface {
	WSReader
	WSWriter
}

// WSFeed carries position updates over a websocket connection to the mapping
// collaborator. Incoming text messages are JSON Updates; PublishSelf writes
// the local position as the same message shape.
type WSFeed struct {
	log    logger.Logger
	selfID identifiers.ClientID
	conn   WSReadWriter

	bufPool   *bpool.BufferPool
	updates   chan Update
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeConn func() error
}

var _ Feed = &WSFeed{}

// NewWSFeed wraps an established websocket connection. The feed reads until
// the connection fails or Close is called.
func NewWSFeed(log logger.Logger, selfID identifiers.ClientID, conn WSReadWriter) *WSFeed {
	ctx, cancel := context.WithCancel(context.Background())

	f := &WSFeed{
		log:     log.WithNamespaceAppended("wsfeed"),
		selfID:  selfID,
		conn:    conn,
		bufPool: bpool.NewBufferPool(wsBufferPoolSize),
		updates: make(chan Update, wsFeedBuffer),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go f.readLoop()

	return f
}

// Dial connects to a websocket position feed and returns a feed that owns the
// connection.
func Dial(ctx context.Context, log logger.Logger, selfID identifiers.ClientID, url string) (*WSFeed, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errors.Annotatef(err, "dial position feed: %s", url)
	}

	f := NewWSFeed(log, selfID, conn)
	f.closeConn = func() error {
		return conn.Close(websocket.StatusNormalClosure, "")
	}

	return f, nil
}

func (f *WSFeed) readLoop() {
	defer close(f.done)
	defer close(f.updates)

	for {
		typ, data, err := f.conn.Read(f.ctx)
		if err != nil {
			if f.ctx.Err() == nil {
				f.log.Error("Position feed read", errors.Trace(err), nil)
			}

			return
		}

		if typ != websocket.MessageText {
			continue
		}

		var update Update

		if err := json.Unmarshal(data, &update); err != nil {
			f.log.Error("Unmarshal position update", errors.Trace(err), nil)

			continue
		}

		// Our own reports may echo back.
		if update.ClientID == f.selfID {
			continue
		}

		select {
		case f.updates <- update:
		case <-f.ctx.Done():
			return
		}
	}
}

func (f *WSFeed) Updates() <-chan Update {
	return f.updates
}

func (f *WSFeed) PublishSelf(position geo.Position) error {
	if f.ctx.Err() != nil {
		return errors.Trace(ErrFeedClosed)
	}

	buf := f.bufPool.Get()
	defer f.bufPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(Update{
		ClientID: f.selfID,
		Position: position,
	}); err != nil {
		return errors.Annotatef(err, "encode self position")
	}

	ctx, cancel := context.WithTimeout(f.ctx, wsWriteTimeout)
	defer cancel()

	err := f.conn.Write(ctx, websocket.MessageText, buf.Bytes())

	return errors.Annotatef(err, "write self position")
}

func (f *WSFeed) Close() error {
	f.cancel()
	<-f.done

	if f.closeConn != nil {
		// The normal-closure close error is expected here.
		if err := f.closeConn(); err != nil {
			f.log.Debug("Close feed connection", logger.Ctx{
				"error": err,
			})
		}
	}

	return nil
}
