package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingSink holds every delivery until release is closed
type blockingSink struct {
	release chan struct{}
	fail    bool

	mu        sync.Mutex
	delivered []string
}

func (b *blockingSink) record(event string) error {
	<-b.release
	b.mu.Lock()
	b.delivered = append(b.delivered, event)
	b.mu.Unlock()
	if b.fail {
		return errors.New("subscriber gone")
	}
	return nil
}

func (b *blockingSink) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.delivered)
}

func (b *blockingSink) NotifyOutbid(ctx context.Context, userID uuid.UUID, p OutbidPayload) error {
	return b.record("outbid")
}

func (b *blockingSink) BroadcastNewBid(ctx context.Context, p NewBidPayload) error {
	return b.record("new_bid")
}

func (b *blockingSink) NotifyWatchersAuctionEnded(ctx context.Context, p AuctionEndedPayload) error {
	return b.record("auction_ended")
}

func TestAsync_CallerDoesNotWaitForDelivery(t *testing.T) {
	slow := &blockingSink{release: make(chan struct{})}
	async := NewAsync(slow, 8, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go async.Run(ctx)

	start := time.Now()
	require.NoError(t, async.NotifyOutbid(ctx, uuid.New(), OutbidPayload{AuctionID: uuid.New()}))
	require.NoError(t, async.BroadcastNewBid(ctx, NewBidPayload{AuctionID: uuid.New(), Amount: decimal.NewFromInt(1000)}))
	require.NoError(t, async.NotifyWatchersAuctionEnded(ctx, AuctionEndedPayload{AuctionID: uuid.New()}))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, slow.count())

	close(slow.release)
	require.Eventually(t, func() bool { return slow.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"outbid", "new_bid", "auction_ended"}, slow.delivered)
}

func TestAsync_FullQueueDropsEvent(t *testing.T) {
	slow := &blockingSink{release: make(chan struct{})}
	defer close(slow.release)
	// Run is not started, nothing drains the queue
	async := NewAsync(slow, 1, quietLogger())

	require.NoError(t, async.BroadcastNewBid(context.Background(), NewBidPayload{}))
	err := async.BroadcastNewBid(context.Background(), NewBidPayload{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "new_bid")
	assert.Equal(t, 1, async.Pending())
}

func TestAsync_DeliveryFailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	failing := &blockingSink{release: make(chan struct{}), fail: true}
	close(failing.release)
	async := NewAsync(failing, 4, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go async.Run(ctx)

	require.NoError(t, async.NotifyOutbid(ctx, uuid.New(), OutbidPayload{}))
	require.Eventually(t, func() bool { return len(hook.AllEntries()) == 1 }, 2*time.Second, 10*time.Millisecond)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "outbid", entry.Data["event"])
}
