package geofeed

import (
	"sync"

	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/geo"
	"github.com/soundmap/soundmap/engine/identifiers"
	"github.com/soundmap/soundmap/engine/logger"
)

const memoryFeedBuffer = 64

// MemoryFeed is an in-process feed for single-instance deployments and
// tests. Position reports are pushed directly by the collaborator.
type MemoryFeed struct {
	log    logger.Logger
	selfID identifiers.ClientID

	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	closed  bool
	updates chan Update
}

var _ Feed = &MemoryFeed{}

func NewMemoryFeed(log logger.Logger, selfID identifiers.ClientID) *MemoryFeed {
	return &MemoryFeed{
		log:     log.WithNamespaceAppended("memoryfeed"),
		selfID:  selfID,
		done:    make(chan struct{}),
		updates: make(chan Update, memoryFeedBuffer),
	}
}

// Push delivers one update to the feed's consumer. The send is abandoned when
// Close runs, so a full buffer with a stalled consumer cannot park a producer
// holding the mutex forever.
func (f *MemoryFeed) Push(update Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errors.Annotatef(ErrFeedClosed, "push: %s", update.ClientID)
	}

	select {
	case f.updates <- update:
		return nil
	case <-f.done:
		return errors.Annotatef(ErrFeedClosed, "push: %s", update.ClientID)
	}
}

func (f *MemoryFeed) Updates() <-chan Update {
	return f.updates
}

// PublishSelf loops the local position back through the feed so the listener
// flows through the same path as everyone else.
func (f *MemoryFeed) PublishSelf(position geo.Position) error {
	return errors.Trace(f.Push(Update{
		ClientID: f.selfID,
		Position: position,
	}))
}

func (f *MemoryFeed) Close() error {
	f.closeOnce.Do(func() {
		// Release any producer parked on a full buffer before taking the
		// mutex, then close the updates channel under it so no send can race
		// the close.
		close(f.done)

		f.mu.Lock()

		f.closed = true
		close(f.updates)

		f.mu.Unlock()
	})

	return nil
}
