package engine

import (
	"context"
	"log/slog"
	"time"

	"fairbid/internal/cache"
	"fairbid/internal/domain"
	"fairbid/internal/event"
	"fairbid/internal/infra"
)

// LifecycleStore is the durable-store surface the lifecycle manager needs.
type LifecycleStore interface {
	CreateAuction(a *domain.Auction) error
	GetAuction(id string) (*domain.Auction, error)
	SaveAuction(a *domain.Auction) error
	OpenAuctions() ([]domain.Auction, error)
	TopBids(auctionID string, limit int) ([]domain.Bid, error)
	CreateWinning(w *domain.Winning) error
	SaveWinning(w *domain.Winning) error
	WinningsForAuction(auctionID string) ([]domain.Winning, error)
	PendingWinning(auctionID string) (*domain.Winning, error)
	ExpiredPendingWinnings(now time.Time) ([]domain.Winning, error)
	CreateTrade(t *domain.Trade) error
}

// CollaboratorSink receives closure and no-show events for systems outside
// the engine (trades hand-off, reputation).
type CollaboratorSink interface {
	AuctionClosed(event.AuctionOutcome)
	CandidateNoShow(event.CandidateNoShow)
}

// CreateAuctionRequest is seller input for a new listing.
type CreateAuctionRequest struct {
	SellerID        string    `json:"seller_id"`
	Title           string    `json:"title"`
	StartPrice      int64     `json:"start_price"`
	InstantBuyPrice int64     `json:"instant_buy_price"`
	DurationMin     int       `json:"duration_min"`
	StartAt         time.Time `json:"start_at"`
}

// Lifecycle owns every auction state transition outside the bid hotpath:
// opening scheduled auctions, closing due ones, ranking winners, walking
// candidates through their response deadlines, and cutting trades.
type Lifecycle struct {
	cache *cache.StateCache
	store LifecycleStore
	hub   Publisher
	sink  CollaboratorSink
	cfg   *infra.Config
	log   *slog.Logger

	now func() time.Time
}

// NewLifecycle wires the lifecycle manager.
func NewLifecycle(c *cache.StateCache, store LifecycleStore, hub Publisher, sink CollaboratorSink, cfg *infra.Config, log *slog.Logger) *Lifecycle {
	return &Lifecycle{
		cache: c,
		store: store,
		hub:   hub,
		sink:  sink,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

// CreateAuction validates seller input, persists the listing, and warms the
// cache when it opens immediately.
func (l *Lifecycle) CreateAuction(req CreateAuctionRequest) (*domain.Auction, error) {
	a, err := domain.NewAuction(req.SellerID, req.Title, req.StartPrice, req.InstantBuyPrice,
		time.Duration(req.DurationMin)*time.Minute, req.StartAt)
	if err != nil {
		return nil, err
	}

	if err := l.store.CreateAuction(a); err != nil {
		return nil, domain.NewInfraError("create auction", err)
	}

	if a.Status == domain.StatusBidding {
		l.cache.Put(a.State())
	}

	l.log.Info("auction created",
		slog.String("auction_id", a.ID),
		slog.String("status", string(a.Status)),
		slog.Int64("start_price", a.StartPrice),
	)
	return a, nil
}

// Run drives the periodic sweeps until ctx is cancelled.
func (l *Lifecycle) Run(ctx context.Context) {
	closeTicker := time.NewTicker(l.cfg.CloseSweepInterval())
	noShowTicker := time.NewTicker(l.cfg.NoShowSweepInterval())
	defer closeTicker.Stop()
	defer noShowTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closeTicker.C:
			l.SweepDeadlines()
		case <-noShowTicker.C:
			l.SweepNoShows()
		}
	}
}

// SweepDeadlines opens scheduled auctions whose start has arrived and
// closes auctions whose deadline has passed. Exported so tests and admin
// tooling can run a sweep synchronously.
func (l *Lifecycle) SweepDeadlines() {
	now := l.now()

	auctions, err := l.store.OpenAuctions()
	if err != nil {
		l.log.Error("deadline sweep query failed", slog.Any("error", err))
		infra.GlobalMetrics.RecordError()
		return
	}

	open := int64(0)
	for i := range auctions {
		a := &auctions[i]
		switch {
		case a.Status == domain.StatusScheduled && !now.Before(a.ScheduledStartTime):
			l.openAuction(a)
			open++
		case a.Status.Open():
			// The cache deadline is authoritative while the auction is hot;
			// extensions may not have been mirrored yet.
			deadline := a.ScheduledEndTime
			if snap, ok := l.cache.Snapshot(a.ID); ok {
				deadline = snap.ScheduledEnd
			}
			if now.After(deadline) {
				l.closeAuction(a, now)
			} else {
				open++
			}
		default:
			open++
		}
	}
	infra.GlobalMetrics.SetOpenAuctions(open)
}

func (l *Lifecycle) openAuction(a *domain.Auction) {
	a.Status = domain.StatusBidding
	if err := l.store.SaveAuction(a); err != nil {
		l.log.Error("auction open failed", slog.String("auction_id", a.ID), slog.Any("error", err))
		infra.GlobalMetrics.RecordError()
		return
	}
	l.cache.Put(a.State())
	l.log.Info("auction opened", slog.String("auction_id", a.ID))
}

// closeAuction finalizes one due auction: freeze the price from the cache,
// decide ENDED vs FAILED, rank the candidates, and evict the hot state.
func (l *Lifecycle) closeAuction(a *domain.Auction, now time.Time) {
	snap, cached := l.cache.Snapshot(a.ID)
	if cached {
		a.CurrentPrice = snap.CurrentPrice
		a.TotalBidCount = snap.TotalBidCount
		a.ExtensionCount = snap.ExtensionCount
		a.ScheduledEndTime = snap.ScheduledEnd
	}

	end := now
	a.ActualEndTime = &end

	if a.TotalBidCount == 0 {
		a.Status = domain.StatusFailed
		if err := l.store.SaveAuction(a); err != nil {
			l.log.Error("auction close failed", slog.String("auction_id", a.ID), slog.Any("error", err))
			infra.GlobalMetrics.RecordError()
			return
		}
		l.finishClose(a, now)
		l.notifyOutcome(a, "", 0, true, now)
		return
	}

	top := l.topCandidates(a, &snap, cached)
	if len(top) == 0 {
		// Bids exist but none are visible yet; leave the auction for the
		// next sweep rather than closing without a winner.
		l.log.Warn("close deferred, winner not yet visible", slog.String("auction_id", a.ID))
		return
	}

	a.Status = domain.StatusEnded
	a.WinnerID = top[0].BidderID
	if err := l.store.SaveAuction(a); err != nil {
		l.log.Error("auction close failed", slog.String("auction_id", a.ID), slog.Any("error", err))
		infra.GlobalMetrics.RecordError()
		return
	}

	first := domain.NewFirstRank(a.ID, top[0].BidderID, top[0].Amount, l.cfg.Rank1ResponseWindow())
	if err := l.store.CreateWinning(&first); err != nil {
		l.log.Error("winning create failed", slog.String("auction_id", a.ID), slog.Any("error", err))
		infra.GlobalMetrics.RecordError()
		return
	}
	if len(top) > 1 {
		second := domain.NewSecondRank(a.ID, top[1].BidderID, top[1].Amount)
		if err := l.store.CreateWinning(&second); err != nil {
			l.log.Error("winning create failed", slog.String("auction_id", a.ID), slog.Any("error", err))
			infra.GlobalMetrics.RecordError()
		}
	}

	l.finishClose(a, now)
	l.notifyOutcome(a, a.WinnerID, a.CurrentPrice, false, now)
	l.log.Info("auction closed",
		slog.String("auction_id", a.ID),
		slog.String("winner_id", a.WinnerID),
		slog.Int64("final_price", a.CurrentPrice),
	)
}

// topCandidates ranks the top two distinct bidders from the durable store,
// falling back to the cache's top-2 slots while the ledger drain lags.
func (l *Lifecycle) topCandidates(a *domain.Auction, snap *domain.AuctionState, cached bool) []domain.Bid {
	top, err := l.store.TopBids(a.ID, 2)
	if err != nil {
		l.log.Error("top bids query failed", slog.String("auction_id", a.ID), slog.Any("error", err))
		infra.GlobalMetrics.RecordError()
		top = nil
	}

	// The durable replica is behind whenever its best amount trails the
	// frozen price. The cache slots carry the authoritative top-2.
	if cached && (len(top) == 0 || top[0].Amount < snap.CurrentPrice) {
		fallback := []domain.Bid{{AuctionID: a.ID, BidderID: snap.TopBidderID, Amount: snap.TopBidAmount}}
		if snap.SecondBidderID != "" {
			fallback = append(fallback, domain.Bid{AuctionID: a.ID, BidderID: snap.SecondBidderID, Amount: snap.SecondBidAmount})
		}
		if fallback[0].BidderID != "" {
			return fallback
		}
	}
	return top
}

func (l *Lifecycle) finishClose(a *domain.Auction, now time.Time) {
	l.cache.Evict(a.ID)
	infra.GlobalMetrics.SetCacheBids(uint64(l.cache.BidCount()))
	if l.hub != nil {
		l.hub.Publish(event.AuctionClosed{AuctionID: a.ID, ClosedAt: now})
	}
}

func (l *Lifecycle) notifyOutcome(a *domain.Auction, winnerID string, finalPrice int64, failed bool, now time.Time) {
	if l.sink == nil {
		return
	}
	l.sink.AuctionClosed(event.AuctionOutcome{
		AuctionID:  a.ID,
		WinnerID:   winnerID,
		FinalPrice: finalPrice,
		Failed:     failed,
		ClosedAt:   now,
	})
}

// SweepNoShows walks every PENDING_RESPONSE candidate whose deadline has
// passed: rank 1 hands over to an eligible rank 2, anything else fails the
// sale.
func (l *Lifecycle) SweepNoShows() {
	now := l.now()

	expired, err := l.store.ExpiredPendingWinnings(now)
	if err != nil {
		l.log.Error("no-show sweep query failed", slog.Any("error", err))
		infra.GlobalMetrics.RecordError()
		return
	}

	for i := range expired {
		l.processNoShow(&expired[i], now)
	}
}

func (l *Lifecycle) processNoShow(w *domain.Winning, now time.Time) {
	rank1 := w.Rank == 1
	if rank1 {
		w.MarkNoShow()
	} else {
		// Only rank 1 carries the no-show sanction. An expired rank-2
		// window just exhausts the candidate chain.
		w.MarkFailed()
	}
	if err := l.store.SaveWinning(w); err != nil {
		l.log.Error("no-show save failed", slog.String("auction_id", w.AuctionID), slog.Any("error", err))
		infra.GlobalMetrics.RecordError()
		return
	}

	if rank1 && l.sink != nil {
		l.sink.CandidateNoShow(event.CandidateNoShow{
			UserID:     w.BidderID,
			AuctionID:  w.AuctionID,
			Rank:       w.Rank,
			OccurredAt: now,
		})
	}
	l.log.Info("response window expired",
		slog.String("auction_id", w.AuctionID),
		slog.String("bidder_id", w.BidderID),
		slog.Int("rank", w.Rank),
	)

	a, err := l.store.GetAuction(w.AuctionID)
	if err != nil || a == nil {
		l.log.Error("no-show auction lookup failed", slog.String("auction_id", w.AuctionID), slog.Any("error", err))
		infra.GlobalMetrics.RecordError()
		return
	}

	if rank1 && l.promoteSecond(a, now) {
		return
	}
	l.failSale(a, now)
}

// promoteSecond hands the sale to the rank-2 candidate when one exists and
// clears the eligibility bar.
func (l *Lifecycle) promoteSecond(a *domain.Auction, now time.Time) bool {
	winnings, err := l.store.WinningsForAuction(a.ID)
	if err != nil {
		l.log.Error("winnings lookup failed", slog.String("auction_id", a.ID), slog.Any("error", err))
		infra.GlobalMetrics.RecordError()
		return false
	}

	for i := range winnings {
		w := &winnings[i]
		if w.Rank != 2 || w.Status != domain.WinningStandby {
			continue
		}
		if !w.EligibleForPromotion(a.InstantBuyPrice, l.cfg.Auction.InstantBuyThreshold) {
			w.MarkFailed()
			if err := l.store.SaveWinning(w); err != nil {
				l.log.Error("winning save failed", slog.String("auction_id", a.ID), slog.Any("error", err))
				infra.GlobalMetrics.RecordError()
			}
			return false
		}
		if err := w.Promote(l.cfg.Rank2ResponseWindow()); err != nil {
			return false
		}
		if err := l.store.SaveWinning(w); err != nil {
			l.log.Error("winning promote failed", slog.String("auction_id", a.ID), slog.Any("error", err))
			infra.GlobalMetrics.RecordError()
			return false
		}

		a.WinnerID = w.BidderID
		a.CurrentPrice = w.BidAmount
		if err := l.store.SaveAuction(a); err != nil {
			l.log.Error("auction save failed", slog.String("auction_id", a.ID), slog.Any("error", err))
			infra.GlobalMetrics.RecordError()
		}

		l.log.Info("second rank promoted",
			slog.String("auction_id", a.ID),
			slog.String("bidder_id", w.BidderID),
		)
		return true
	}
	return false
}

// failSale marks the sale dead after the candidate chain is exhausted.
func (l *Lifecycle) failSale(a *domain.Auction, now time.Time) {
	if a.Status == domain.StatusFailed || a.Status == domain.StatusCancelled {
		return
	}
	a.Status = domain.StatusFailed
	a.WinnerID = ""
	if a.ActualEndTime == nil {
		end := now
		a.ActualEndTime = &end
	}
	if err := l.store.SaveAuction(a); err != nil {
		l.log.Error("fail sale save failed", slog.String("auction_id", a.ID), slog.Any("error", err))
		infra.GlobalMetrics.RecordError()
		return
	}
	l.notifyOutcome(a, "", 0, true, now)
	l.log.Info("sale failed", slog.String("auction_id", a.ID))
}

// Respond records the winning candidate's acknowledgment and cuts the trade.
func (l *Lifecycle) Respond(auctionID, bidderID string) (*domain.Trade, error) {
	w, err := l.store.PendingWinning(auctionID)
	if err != nil {
		return nil, domain.NewInfraError("pending winning lookup", err)
	}
	if w == nil {
		return nil, domain.ErrWinningNotFound
	}
	if w.BidderID != bidderID {
		return nil, domain.ErrNotWinningBidder
	}
	if w.ResponseExpired(l.now()) {
		// The sweep will convert this to a no-show; do not accept late.
		return nil, domain.ErrWinningNotPending
	}

	a, err := l.store.GetAuction(auctionID)
	if err != nil {
		return nil, domain.NewInfraError("auction lookup", err)
	}
	if a == nil {
		return nil, domain.ErrAuctionNotFound
	}

	if err := w.MarkResponded(); err != nil {
		return nil, err
	}
	if err := l.store.SaveWinning(w); err != nil {
		return nil, domain.NewInfraError("winning save", err)
	}

	// Instant-buy grace resolves on response.
	if a.Status == domain.StatusInstantBuyPending {
		a.Status = domain.StatusEnded
		a.WinnerID = w.BidderID
		end := l.now()
		if a.ActualEndTime == nil {
			a.ActualEndTime = &end
		}
		if err := l.store.SaveAuction(a); err != nil {
			return nil, domain.NewInfraError("auction save", err)
		}
		l.cache.Evict(a.ID)
	}

	trade := domain.NewTrade(a.ID, a.SellerID, w.BidderID, w.BidAmount)
	if err := l.store.CreateTrade(&trade); err != nil {
		return nil, domain.NewInfraError("trade create", err)
	}

	l.log.Info("trade created",
		slog.String("auction_id", a.ID),
		slog.String("buyer_id", w.BidderID),
		slog.Int64("final_price", w.BidAmount),
	)
	return &trade, nil
}

// Cancel withdraws a listing. Only the seller may cancel, and only before
// any bid lands.
func (l *Lifecycle) Cancel(auctionID, sellerID string) error {
	a, err := l.store.GetAuction(auctionID)
	if err != nil {
		return domain.NewInfraError("auction lookup", err)
	}
	if a == nil {
		return domain.ErrAuctionNotFound
	}
	if a.SellerID != sellerID {
		return domain.ErrNotSeller
	}
	if a.Status.Terminal() {
		return domain.ErrAuctionNotOpen
	}

	bidCount := a.TotalBidCount
	if snap, ok := l.cache.Snapshot(a.ID); ok {
		bidCount = snap.TotalBidCount
	}
	if bidCount > 0 {
		return domain.ErrAuctionHasBids
	}

	return l.cancel(a)
}

// AdminCancel withdraws a listing regardless of bid activity. Same state
// machine as Cancel; only the entry conditions differ.
func (l *Lifecycle) AdminCancel(auctionID string) error {
	a, err := l.store.GetAuction(auctionID)
	if err != nil {
		return domain.NewInfraError("auction lookup", err)
	}
	if a == nil {
		return domain.ErrAuctionNotFound
	}
	if a.Status.Terminal() {
		return domain.ErrAuctionNotOpen
	}
	return l.cancel(a)
}

func (l *Lifecycle) cancel(a *domain.Auction) error {
	// Freeze the hot fields for history before the entry is evicted.
	if snap, ok := l.cache.Snapshot(a.ID); ok {
		a.CurrentPrice = snap.CurrentPrice
		a.TotalBidCount = snap.TotalBidCount
		a.ExtensionCount = snap.ExtensionCount
	}

	a.Status = domain.StatusCancelled
	a.WinnerID = ""
	end := l.now()
	a.ActualEndTime = &end
	if err := l.store.SaveAuction(a); err != nil {
		return domain.NewInfraError("auction save", err)
	}
	l.finishClose(a, end)
	l.log.Info("auction cancelled", slog.String("auction_id", a.ID))
	return nil
}

// ForceClose is the admin override: close now regardless of the deadline.
func (l *Lifecycle) ForceClose(auctionID string) error {
	a, err := l.store.GetAuction(auctionID)
	if err != nil {
		return domain.NewInfraError("auction lookup", err)
	}
	if a == nil {
		return domain.ErrAuctionNotFound
	}
	if !a.Status.Open() {
		return domain.ErrAuctionNotOpen
	}
	l.closeAuction(a, l.now())
	return nil
}

// AdjustDeadline is the admin override for an open auction's deadline.
func (l *Lifecycle) AdjustDeadline(auctionID string, newEnd time.Time) error {
	a, err := l.store.GetAuction(auctionID)
	if err != nil {
		return domain.NewInfraError("auction lookup", err)
	}
	if a == nil {
		return domain.ErrAuctionNotFound
	}
	if !a.Status.Open() {
		return domain.ErrAuctionNotOpen
	}

	a.ScheduledEndTime = newEnd
	if err := l.store.SaveAuction(a); err != nil {
		return domain.NewInfraError("auction save", err)
	}

	// Move the hot deadline too; bids validate against the cache.
	if snap, ok := l.cache.Snapshot(a.ID); ok {
		for {
			next := snap
			next.ScheduledEnd = newEnd
			next.Version++
			if err := l.cache.Commit(a.ID, snap.Version, next, nil); err == nil {
				break
			}
			var ok2 bool
			snap, ok2 = l.cache.Snapshot(a.ID)
			if !ok2 {
				break
			}
		}
	}
	l.log.Info("deadline adjusted", slog.String("auction_id", a.ID), slog.Time("new_end", newEnd))
	return nil
}

// ForceNoShow is the admin override that expires a pending candidate
// immediately.
func (l *Lifecycle) ForceNoShow(auctionID string) error {
	w, err := l.store.PendingWinning(auctionID)
	if err != nil {
		return domain.NewInfraError("pending winning lookup", err)
	}
	if w == nil {
		return domain.ErrWinningNotFound
	}
	l.processNoShow(w, l.now())
	return nil
}

// RebuildCache reloads every open auction into the state cache after a
// restart and replays un-drained ledger records on top, so hot state picks
// up exactly where the last accepted bid left it.
func (l *Lifecycle) RebuildCache(replay []RecordView) error {
	auctions, err := l.store.OpenAuctions()
	if err != nil {
		return domain.NewInfraError("open auctions query", err)
	}

	for i := range auctions {
		a := &auctions[i]
		if a.Status == domain.StatusScheduled {
			continue
		}
		state := a.State()
		// The durable row carries no bidder identity; refill the top-2
		// slots from the bid table.
		if top, err := l.store.TopBids(a.ID, 2); err == nil {
			if len(top) > 0 {
				state.TopBidderID = top[0].BidderID
				state.TopBidAmount = top[0].Amount
			}
			if len(top) > 1 {
				state.SecondBidderID = top[1].BidderID
				state.SecondBidAmount = top[1].Amount
			}
		}
		l.cache.Put(state)
	}

	// Replay beyond the durable mirror. Records arrive in ledger order, so
	// the last record per auction wins.
	for _, rec := range replay {
		snap, ok := l.cache.Snapshot(rec.AuctionID)
		if !ok {
			continue
		}
		if rec.TotalBidCount <= snap.TotalBidCount {
			continue
		}
		next := snap
		next.CurrentPrice = rec.CurrentPrice
		next.TotalBidCount = rec.TotalBidCount
		next.ScheduledEnd = rec.ScheduledEnd
		next.Status = rec.Status
		next.ExtensionCount = rec.ExtensionCount
		next.BaseIncrement = domain.BaseIncrementFor(rec.CurrentPrice)
		if rec.BidderID != snap.TopBidderID {
			next.SecondBidderID = snap.TopBidderID
			next.SecondBidAmount = snap.TopBidAmount
		}
		next.TopBidderID = rec.BidderID
		next.TopBidAmount = rec.Amount
		next.Version++
		if err := l.cache.Commit(rec.AuctionID, snap.Version, next, nil); err != nil {
			return err
		}
	}

	infra.GlobalMetrics.SetCacheBids(uint64(l.cache.BidCount()))
	l.log.Info("cache rebuilt", slog.Int("auctions", l.cache.Len()))
	return nil
}

// RecordView is the slice of a ledger record the rebuild needs. Declared
// here so the engine does not depend on the ledger's storage format.
type RecordView struct {
	AuctionID      string
	BidderID       string
	Amount         int64
	CurrentPrice   int64
	TotalBidCount  int
	ScheduledEnd   time.Time
	Status         domain.AuctionStatus
	ExtensionCount int
}
