package realtime

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"fairbid/internal/event"
)

func update(auctionID string, price int64) event.BidUpdate {
	return event.BidUpdate{
		AuctionID:    auctionID,
		CurrentPrice: price,
		NextMinBid:   price + 500,
		OccurredAt:   time.Now(),
	}
}

func TestPublish_DeliversToTopicOnly(t *testing.T) {
	hub := NewHub(slog.Default())
	subA := hub.Subscribe("auction-a")
	subB := hub.Subscribe("auction-b")
	defer hub.Unsubscribe(subA)
	defer hub.Unsubscribe(subB)

	hub.Publish(update("auction-a", 10_500))

	select {
	case env := <-subA.C():
		if env.Type != event.KindBidUpdate {
			t.Errorf("expected BID_UPDATE, got %s", env.Type)
		}
		var got event.BidUpdate
		if err := json.Unmarshal(env.Payload, &got); err != nil {
			t.Fatalf("payload decode failed: %v", err)
		}
		if got.CurrentPrice != 10_500 {
			t.Errorf("expected price 10500, got %d", got.CurrentPrice)
		}
	default:
		t.Fatal("subscriber A received nothing")
	}

	select {
	case <-subB.C():
		t.Fatal("subscriber B should not receive auction-a updates")
	default:
	}
}

func TestPublish_DropsUpdatesForSlowSubscriber(t *testing.T) {
	hub := NewHub(slog.Default())
	sub := hub.Subscribe("auction-a")
	defer hub.Unsubscribe(sub)

	// Overflow the buffer; the excess updates are dropped, not blocking.
	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(update("auction-a", int64(10_000+i)))
	}

	if hub.Subscribers("auction-a") != 1 {
		t.Error("slow subscriber must not be evicted for droppable updates")
	}
	if n := len(sub.ch); n != subscriberBuffer {
		t.Errorf("expected full buffer %d, got %d", subscriberBuffer, n)
	}
}

func TestPublish_EvictsSlowSubscriberOnClose(t *testing.T) {
	hub := NewHub(slog.Default())
	slow := hub.Subscribe("auction-a")
	fast := hub.Subscribe("auction-a")
	defer hub.Unsubscribe(fast)

	for i := 0; i < subscriberBuffer; i++ {
		hub.Publish(update("auction-a", int64(10_000+i)))
	}
	// Drain the fast subscriber so it has room for the closing message.
	for len(fast.ch) > 0 {
		<-fast.C()
	}

	hub.Publish(event.AuctionClosed{AuctionID: "auction-a", ClosedAt: time.Now()})

	if hub.Subscribers("auction-a") != 1 {
		t.Fatalf("expected slow subscriber evicted, got %d subscribers", hub.Subscribers("auction-a"))
	}

	// The evicted channel is closed after its buffered backlog.
	evicted := false
	for range slow.C() {
	}
	evicted = true
	if !evicted {
		t.Error("evicted subscriber channel should be closed")
	}

	// The fast subscriber got the closing message.
	env := <-fast.C()
	if env.Type != event.KindAuctionClosed {
		t.Errorf("expected AUCTION_CLOSED, got %s", env.Type)
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	hub := NewHub(slog.Default())
	sub := hub.Subscribe("auction-a")

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	if hub.Subscribers("auction-a") != 0 {
		t.Error("expected empty topic after unsubscribe")
	}

	// Publishing to a topic with no subscribers is a no-op.
	hub.Publish(update("auction-a", 10_500))
}
