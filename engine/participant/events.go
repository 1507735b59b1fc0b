package participant

import (
	"io"

	"github.com/juju/errors"
	"github.com/soundmap/soundmap/engine/identifiers"
)

// EventType describes a registry change.
type EventType uint8

const (
	// EventTypeUpsert is emitted when a participant is created or when any of
	// its fields actually change. Updates that change nothing emit no event.
	EventTypeUpsert EventType = iota + 1

	// EventTypeRemove is emitted when a participant leaves or disconnects.
	EventTypeRemove
)

// Event carries a snapshot of the participant state after the change.
type Event struct {
	Type  EventType
	State State
}

type subRequestType int

const (
	subRequestTypeSubscribe subRequestType = iota + 1
	subRequestTypeUnsubscribe
)

type eventSubRequest struct {
	subscriberID identifiers.ClientID
	typ          subRequestType
	done         chan eventSubResponse
}

type eventSubResponse struct {
	sub <-chan Event
	err error
}

// events fans registry change events out to per-subscriber channels. All
// subscription bookkeeping happens on a single goroutine. done is owned by
// the registry; once it closes, deliveries to wedged subscribers are
// abandoned so teardown cannot hang behind a consumer that stopped draining.
type events struct {
	subRequestsChan chan eventSubRequest
	torndown        chan struct{}
	done            <-chan struct{}
	bufferSize      int
}

func newEvents(in <-chan Event, done <-chan struct{}, bufferSize int) *events {
	e := &events{
		subRequestsChan: make(chan eventSubRequest),
		torndown:        make(chan struct{}),
		done:            done,
		bufferSize:      bufferSize,
	}

	go e.start(in)

	return e
}

func (e *events) start(in <-chan Event) {
	subs := map[identifiers.ClientID]chan Event{}

	defer func() {
		for _, out := range subs {
			close(out)
		}

		close(e.torndown)
	}()

	for {
		select {
		case event, ok := <-in:
			if !ok {
				return
			}

			for _, out := range subs {
				select {
				case out <- event:
				case <-e.done:
				}
			}

		case req := <-e.subRequestsChan:
			// Unsubscribe any existing subscription for this subscriber.
			if out, ok := subs[req.subscriberID]; ok {
				delete(subs, req.subscriberID)
				close(out)
			}

			if req.typ == subRequestTypeSubscribe {
				sub := make(chan Event, e.bufferSize)
				subs[req.subscriberID] = sub
				req.done <- eventSubResponse{
					sub: sub,
					err: nil,
				}
			}

			close(req.done)
		}
	}
}

func (e *events) request(req eventSubRequest) (<-chan Event, error) {
	select {
	case e.subRequestsChan <- req:
		res := <-req.done

		return res.sub, errors.Trace(res.err)
	case <-e.torndown:
		return nil, errors.Trace(io.ErrClosedPipe)
	}
}

func (e *events) Subscribe(subscriberID identifiers.ClientID) (<-chan Event, error) {
	req := eventSubRequest{
		typ:          subRequestTypeSubscribe,
		subscriberID: subscriberID,
		done:         make(chan eventSubResponse, 1),
	}

	sub, err := e.request(req)

	return sub, errors.Annotatef(err, "subscribe: %s", subscriberID)
}

func (e *events) Unsubscribe(subscriberID identifiers.ClientID) error {
	req := eventSubRequest{
		typ:          subRequestTypeUnsubscribe,
		subscriberID: subscriberID,
		done:         make(chan eventSubResponse, 1),
	}

	_, err := e.request(req)

	return errors.Annotatef(err, "unsubscribe: %s", subscriberID)
}

func (e *events) Done() <-chan struct{} {
	return e.torndown
}
