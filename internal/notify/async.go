package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultQueueSize = 1024

type job struct {
	event string
	send  func(ctx context.Context) error
}

// Async queues events for a slower sink and delivers them from Run, so
// callers return as soon as the event is queued. A full queue drops the
// event and reports it to the caller.
type Async struct {
	next   Sink
	queue  chan job
	logger *logrus.Logger
}

var _ Sink = (*Async)(nil)

// NewAsync wraps next with a queue of the given size
func NewAsync(next Sink, size int, logger *logrus.Logger) *Async {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Async{next: next, queue: make(chan job, size), logger: logger}
}

// Run delivers queued events until ctx is cancelled
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-a.queue:
			if err := j.send(ctx); err != nil {
				a.logger.WithError(err).WithField("event", j.event).Error("notification delivery failed")
			}
		}
	}
}

// Pending returns the number of queued events
func (a *Async) Pending() int {
	return len(a.queue)
}

func (a *Async) enqueue(event string, send func(ctx context.Context) error) error {
	select {
	case a.queue <- job{event: event, send: send}:
		return nil
	default:
		return fmt.Errorf("notification queue full, dropped %s", event)
	}
}

func (a *Async) NotifyOutbid(ctx context.Context, userID uuid.UUID, p OutbidPayload) error {
	return a.enqueue("outbid", func(ctx context.Context) error {
		return a.next.NotifyOutbid(ctx, userID, p)
	})
}

func (a *Async) BroadcastNewBid(ctx context.Context, p NewBidPayload) error {
	return a.enqueue("new_bid", func(ctx context.Context) error {
		return a.next.BroadcastNewBid(ctx, p)
	})
}

func (a *Async) NotifyWatchersAuctionEnded(ctx context.Context, p AuctionEndedPayload) error {
	return a.enqueue("auction_ended", func(ctx context.Context) error {
		return a.next.NotifyWatchersAuctionEnded(ctx, p)
	})
}
