package geofeed

import (
	"context"
	"net"
	"strconv"

	"github.com/go-redis/redis/v7"
	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/config"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
	"github.com/soundmap/soundmap/engine/multierr"
)

// Factory builds position feeds from configuration. Redis clients are shared
// between feeds created by the same factory and closed with it.
type Factory struct {
	log logger.Logger

	pubClient *redis.Client
	subClient *redis.Client

	// NewFeed creates a feed for a room. Set according to the configured
	// feed type.
	NewFeed func(room identifiers.RoomID, selfID identifiers.ClientID) (Feed, error)
}

func NewFactory(log logger.Logger, c config.FeedConfig) *Factory {
	log = log.WithNamespaceAppended("geofeed")

	f := &Factory{
		log: log,
	}

	switch c.Type {
	case config.FeedTypeRedis:
		addr := net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))

		log.Info("Using redis position feed", logger.Ctx{
			"addr":   addr,
			"prefix": c.Redis.Prefix,
		})

		f.pubClient = redis.NewClient(&redis.Options{
			Addr: addr,
		})
		f.subClient = redis.NewClient(&redis.Options{
			Addr: addr,
		})

		f.NewFeed = func(room identifiers.RoomID, selfID identifiers.ClientID) (Feed, error) {
			return NewRedisFeed(log, f.pubClient, f.subClient, c.Redis.Prefix, room, selfID), nil
		}
	case config.FeedTypeWS:
		log.Info("Using websocket position feed", logger.Ctx{
			"url": c.WS.URL,
		})

		f.NewFeed = func(room identifiers.RoomID, selfID identifiers.ClientID) (Feed, error) {
			ctx, cancel := context.WithTimeout(context.Background(), defaultSubscribeTimeout)
			defer cancel()

			feed, err := Dial(ctx, log, selfID, c.WS.URL)

			return feed, errors.Trace(err)
		}
	default:
		log.Info("Using memory position feed", nil)

		f.NewFeed = func(room identifiers.RoomID, selfID identifiers.ClientID) (Feed, error) {
			return NewMemoryFeed(log, selfID), nil
		}
	}

	return f
}

// Close closes the shared redis clients, when any were created.
func (f *Factory) Close() error {
	errs := multierr.New()

	if f.pubClient != nil {
		errs.Add(errors.Trace(f.pubClient.Close()))
	}

	if f.subClient != nil {
		errs.Add(errors.Trace(f.subClient.Close()))
	}

	return errors.Trace(errs.Err())
}
