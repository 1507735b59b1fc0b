package geofeed

import (
	"context"
	"encoding/json"
	e "errors"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
)

const (
	defaultSubscribeTimeout = 10 * time.Second
	redisFeedBuffer         = 100
)

// RedisFeed carries position updates over a redis pub/sub channel shared by
// every engine instance in the room.
type RedisFeed struct {
	log    logger.Logger
	selfID identifiers.ClientID

	pubRedis *redis.Client
	subRedis *redis.Client
	channel  string
	updates  chan Update
	stop     func() error
}

var _ Feed = &RedisFeed{}

func positionsChannelName(prefix string, room identifiers.RoomID) string {
	return prefix + ":map:" + room.String() + ":positions"
}

// NewRedisFeed creates a feed over pub/sub on pubRedis/subRedis. It blocks
// until the subscription is confirmed or the timeout expires.
func NewRedisFeed(
	log logger.Logger,
	pubRedis *redis.Client,
	subRedis *redis.Client,
	prefix string,
	room identifiers.RoomID,
	selfID identifiers.ClientID,
) *RedisFeed {
	f := &RedisFeed{
		log:      log.WithNamespaceAppended("redisfeed"),
		selfID:   selfID,
		pubRedis: pubRedis,
		subRedis: subRedis,
		channel:  positionsChannelName(prefix, room),
		updates:  make(chan Update, redisFeedBuffer),
	}

	f.subscribeUntilReady(defaultSubscribeTimeout)

	return f
}

// subscribe reads from the positions channel and forwards decoded updates.
// It blocks until the context is closed.
func (f *RedisFeed) subscribe(ctx context.Context, ready chan<- struct{}) error {
	f.log.Info("Subscribe", logger.Ctx{
		"channel": f.channel,
	})

	pubsub := f.subRedis.Subscribe(f.channel)
	defer pubsub.Close()

	ch := pubsub.ChannelWithSubscriptions(redisFeedBuffer)

	isReady := false

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return errors.Errorf("redis subscription channel closed: %s", f.channel)
			}

			switch msg := msg.(type) {
			case *redis.Subscription:
				if !isReady {
					isReady = true

					close(ready)
				}
			case *redis.Message:
				if err := f.handleMessage(ctx, msg.Payload); err != nil {
					f.log.Error("Handle position message", errors.Trace(err), nil)
				}
			}
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		}
	}
}

func (f *RedisFeed) handleMessage(ctx context.Context, payload string) error {
	var update Update

	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		return errors.Annotatef(err, "unmarshal position update")
	}

	// Our own reports echo back through the channel.
	if update.ClientID == f.selfID {
		return nil
	}

	select {
	case f.updates <- update:
	case <-ctx.Done():
	}

	return nil
}

func (f *RedisFeed) subscribeUntilReady(timeout time.Duration) {
	var err error

	done := make(chan struct{})
	ready := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())

	f.stop = func() error {
		cancel()
		<-done

		return errors.Trace(err)
	}

	go func() {
		err = errors.Trace(f.subscribe(ctx, ready))

		close(done)
	}()

	var timeoutDoneCh <-chan struct{}

	if timeout > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), timeout)
		defer timeoutCancel()

		timeoutDoneCh = timeoutCtx.Done()
	}

	select {
	case <-ready:
	case <-timeoutDoneCh:
		cancel()
	}
}

func (f *RedisFeed) Updates() <-chan Update {
	return f.updates
}

func (f *RedisFeed) PublishSelf(position geo.Position) error {
	data, err := json.Marshal(Update{
		ClientID: f.selfID,
		Position: position,
	})
	if err != nil {
		return errors.Annotatef(err, "marshal self position")
	}

	err = f.pubRedis.Publish(f.channel, string(data)).Err()

	return errors.Annotatef(err, "publish self position")
}

// Close stops the subscription, but not the redis clients; those belong to
// the factory.
func (f *RedisFeed) Close() error {
	var err error

	if f.stop != nil {
		if cause := errors.Cause(f.stop()); !e.Is(cause, context.Canceled) {
			err = cause
		}
	}

	close(f.updates)

	return errors.Trace(err)
}
