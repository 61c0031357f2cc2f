package engine

import (
	"errors"
	"log/slog"
	"time"

	"fairbid/internal/cache"
	"fairbid/internal/domain"
	"fairbid/internal/event"
	"fairbid/internal/infra"
	"fairbid/internal/ledger"
)

// Publisher fans a message out to subscribers. Implemented by the realtime hub.
type Publisher interface {
	Publish(msg event.Message)
}

// AuctionLoader is the durable-store surface the coordinator reads on a
// cache miss.
type AuctionLoader interface {
	GetAuction(id string) (*domain.Auction, error)
}

// BidRequest is one bid attempt. Amount is ignored for ONE_TOUCH and
// INSTANT_BUY, which derive their price from the auction itself.
type BidRequest struct {
	AuctionID string         `json:"auction_id"`
	BidderID  string         `json:"bidder_id"`
	BidType   domain.BidType `json:"bid_type"`
	Amount    int64          `json:"amount"`
}

// BidResult describes an accepted bid and the auction state it produced.
type BidResult struct {
	AuctionID    string    `json:"auction_id"`
	BidID        string    `json:"bid_id"`
	Amount       int64     `json:"amount"`
	CurrentPrice int64     `json:"current_price"`
	NextMinBid   int64     `json:"next_min_bid"`
	Deadline     time.Time `json:"deadline"`
	Extended     bool      `json:"extended"`
	InstantBuy   bool      `json:"instant_buy"`
}

// Coordinator runs the bid hotpath: snapshot, validate, commit. Writes go
// through the state cache's versioned commit so two bids racing on the same
// snapshot produce exactly one winner; the loser gets a RACE_LOST rejection
// carrying a fresh minimum instead of a silent double-accept.
type Coordinator struct {
	cache *cache.StateCache
	store AuctionLoader
	queue *ledger.Queue
	hub   Publisher
	cfg   *infra.Config
	log   *slog.Logger

	now func() time.Time

	// Test seam: runs between snapshot and commit so races are reproducible.
	testHookPostSnapshot func()
}

// NewCoordinator wires the bid hotpath.
func NewCoordinator(c *cache.StateCache, store AuctionLoader, queue *ledger.Queue, hub Publisher, cfg *infra.Config, log *slog.Logger) *Coordinator {
	return &Coordinator{
		cache: c,
		store: store,
		queue: queue,
		hub:   hub,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// PlaceBid validates and commits one bid. Validation rejections come back
// as *domain.BidRejection; infrastructure failures as *domain.InfraError.
func (co *Coordinator) PlaceBid(req BidRequest) (*BidResult, error) {
	started := co.now()

	if req.BidderID == "" || !req.BidType.Valid() {
		return nil, &domain.BidRejection{Reason: domain.ErrAmountRequired}
	}
	if req.BidType == domain.BidDirect && req.Amount <= 0 {
		return nil, &domain.BidRejection{Reason: domain.ErrAmountRequired}
	}

	snap, err := co.snapshot(req.AuctionID)
	if err != nil {
		return nil, err
	}

	if co.testHookPostSnapshot != nil {
		co.testHookPostSnapshot()
	}

	now := co.now()
	amount, err := co.validate(&snap, &req, now)
	if err != nil {
		co.rejectMetrics(err)
		return nil, err
	}

	next, bid, extended := co.advance(snap, &req, amount, now)

	rec := &ledger.Record{
		Bid:            bid,
		CurrentPrice:   next.CurrentPrice,
		TotalBidCount:  next.TotalBidCount,
		ScheduledEnd:   next.ScheduledEnd,
		Status:         next.Status,
		ExtensionCount: next.ExtensionCount,
	}

	err = co.cache.Commit(req.AuctionID, snap.Version, next, func() error {
		return co.queue.Append(rec)
	})
	if err != nil {
		return nil, co.commitError(req.AuctionID, err)
	}

	co.acceptMetrics(&req, extended, co.now().Sub(started))
	co.publish(&next, extended, now)

	co.log.Info("bid accepted",
		slog.String("auction_id", req.AuctionID),
		slog.String("bid_type", string(req.BidType)),
		slog.Int64("amount", amount),
		slog.Uint64("seq", rec.Seq),
	)

	return &BidResult{
		AuctionID:    req.AuctionID,
		BidID:        bid.ID,
		Amount:       amount,
		CurrentPrice: next.CurrentPrice,
		NextMinBid:   next.NextMinBid(),
		Deadline:     next.ScheduledEnd,
		Extended:     extended,
		InstantBuy:   req.BidType == domain.BidInstantBuy,
	}, nil
}

// snapshot returns the cached hot state, loading from the durable store on
// a miss (cache-aside).
func (co *Coordinator) snapshot(auctionID string) (domain.AuctionState, error) {
	if snap, ok := co.cache.Snapshot(auctionID); ok {
		return snap, nil
	}

	a, err := co.store.GetAuction(auctionID)
	if err != nil {
		return domain.AuctionState{}, domain.NewInfraError("load auction", err)
	}
	if a == nil {
		return domain.AuctionState{}, domain.ErrAuctionNotFound
	}
	if a.Status.Terminal() {
		return domain.AuctionState{}, &domain.BidRejection{Reason: domain.ErrAuctionNotOpen}
	}

	co.cache.Put(a.State())
	snap, _ := co.cache.Snapshot(auctionID)
	return snap, nil
}

// validate applies every bid rule against the snapshot and resolves the
// effective amount.
func (co *Coordinator) validate(snap *domain.AuctionState, req *BidRequest, now time.Time) (int64, error) {
	if !snap.Status.Open() || now.After(snap.ScheduledEnd) {
		return 0, &domain.BidRejection{Reason: domain.ErrAuctionNotOpen}
	}
	if req.BidderID == snap.SellerID {
		return 0, &domain.BidRejection{Reason: domain.ErrSelfBid}
	}

	switch req.BidType {
	case domain.BidOneTouch:
		return snap.NextMinBid(), nil

	case domain.BidDirect:
		if min := snap.NextMinBid(); req.Amount < min {
			return 0, &domain.BidRejection{Reason: domain.ErrBidTooLow, NextMinBid: min}
		}
		return req.Amount, nil

	case domain.BidInstantBuy:
		if !snap.InstantBuyOpen(co.cfg.Auction.InstantBuyThreshold) {
			return 0, &domain.BidRejection{Reason: domain.ErrInstantBuyUnavailable, NextMinBid: snap.NextMinBid()}
		}
		return snap.InstantBuyPrice, nil
	}

	return 0, &domain.BidRejection{Reason: domain.ErrAmountRequired}
}

// advance builds the post-bid state and the bid record. Pure function of
// the snapshot; nothing here touches shared state.
func (co *Coordinator) advance(snap domain.AuctionState, req *BidRequest, amount int64, now time.Time) (domain.AuctionState, domain.Bid, bool) {
	next := snap
	next.CurrentPrice = amount
	next.TotalBidCount++
	next.Version++

	// Top-2 slots. A higher bid from the current leader keeps rank 2 as is.
	if req.BidderID == snap.TopBidderID {
		next.TopBidAmount = amount
	} else {
		next.SecondBidderID = snap.TopBidderID
		next.SecondBidAmount = snap.TopBidAmount
		next.TopBidderID = req.BidderID
		next.TopBidAmount = amount
	}

	extended := false
	if req.BidType == domain.BidInstantBuy {
		// The buy-now price leads pending the buyer's response; the grace
		// window stays open for counter-bids.
		next.Status = domain.StatusInstantBuyPending
		next.ScheduledEnd = now.Add(co.cfg.InstantBuyGrace())
	} else {
		if snap.Status == domain.StatusInstantBuyPending {
			// A counter-bid above the buy-now price reopens plain bidding
			// for the rest of the grace window.
			next.Status = domain.StatusBidding
		}
		if next.InExtensionWindow(now, co.cfg.ExtensionWindow()) {
			next.ScheduledEnd = next.ScheduledEnd.Add(co.cfg.ExtensionIncrement())
			next.ExtensionCount++
			extended = true
		}
	}

	next.BaseIncrement = domain.BaseIncrementFor(next.CurrentPrice)

	bid := domain.NewBid(req.AuctionID, req.BidderID, amount, req.BidType, next.TotalBidCount, now)
	return next, bid, extended
}

func (co *Coordinator) commitError(auctionID string, err error) error {
	switch {
	case errors.Is(err, cache.ErrVersionConflict):
		infra.GlobalMetrics.RecordBidRejected(true)
		rej := &domain.BidRejection{Reason: domain.ErrRaceLost}
		if fresh, ok := co.cache.Snapshot(auctionID); ok {
			rej.NextMinBid = fresh.NextMinBid()
		}
		return rej
	case errors.Is(err, cache.ErrNotCached):
		infra.GlobalMetrics.RecordBidRejected(false)
		return &domain.BidRejection{Reason: domain.ErrAuctionNotOpen}
	default:
		// Ledger append failed: the bid was never accepted.
		infra.GlobalMetrics.RecordError()
		return domain.NewInfraError("ledger append", err)
	}
}

func (co *Coordinator) rejectMetrics(err error) {
	var rej *domain.BidRejection
	if errors.As(err, &rej) {
		infra.GlobalMetrics.RecordBidRejected(false)
	}
}

func (co *Coordinator) acceptMetrics(req *BidRequest, extended bool, latency time.Duration) {
	infra.GlobalMetrics.RecordBidAccepted(latency)
	if extended {
		infra.GlobalMetrics.RecordExtension()
	}
	if req.BidType == domain.BidInstantBuy {
		infra.GlobalMetrics.RecordInstantBuy()
	}
	infra.GlobalMetrics.SetCacheBids(uint64(co.cache.BidCount()))
}

func (co *Coordinator) publish(next *domain.AuctionState, extended bool, now time.Time) {
	if co.hub == nil {
		return
	}
	co.hub.Publish(event.BidUpdate{
		AuctionID:     next.AuctionID,
		CurrentPrice:  next.CurrentPrice,
		NextMinBid:    next.NextMinBid(),
		BidIncrement:  next.AdjustedIncrement(),
		Deadline:      next.ScheduledEnd,
		TotalBidCount: next.TotalBidCount,
		Extended:      extended,
		OccurredAt:    now,
	})
}
