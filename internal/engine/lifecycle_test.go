package engine

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"fairbid/internal/cache"
	"fairbid/internal/domain"
	"fairbid/internal/event"
	"fairbid/internal/infra/storage"
	"fairbid/internal/ledger"
)

// fakeSink records collaborator notifications.
type fakeSink struct {
	mu       sync.Mutex
	outcomes []event.AuctionOutcome
	noShows  []event.CandidateNoShow
}

func (s *fakeSink) AuctionClosed(o event.AuctionOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
}

func (s *fakeSink) CandidateNoShow(n event.CandidateNoShow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noShows = append(s.noShows, n)
}

type lifecycleFixture struct {
	life  *Lifecycle
	coord *Coordinator
	cache *cache.StateCache
	store *storage.Storage
	queue *ledger.Queue
	hub   *fakeHub
	sink  *fakeSink
}

func setupLifecycle(t *testing.T) *lifecycleFixture {
	t.Helper()

	store, err := storage.NewStorage(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	queue, err := ledger.Open(t.TempDir())
	if err != nil {
		t.Fatalf("ledger.Open failed: %v", err)
	}
	t.Cleanup(func() { queue.Close() })

	c := cache.New()
	hub := &fakeHub{}
	sink := &fakeSink{}
	cfg := testConfig()
	return &lifecycleFixture{
		life:  NewLifecycle(c, store, hub, sink, cfg, slog.Default()),
		coord: NewCoordinator(c, store, queue, hub, cfg, slog.Default()),
		cache: c,
		store: store,
		queue: queue,
		hub:   hub,
		sink:  sink,
	}
}

func (f *lifecycleFixture) createOpen(t *testing.T, startPrice, instantBuy int64) *domain.Auction {
	t.Helper()
	a, err := f.life.CreateAuction(CreateAuctionRequest{
		SellerID:        "seller-1",
		Title:           "camera",
		StartPrice:      startPrice,
		InstantBuyPrice: instantBuy,
		DurationMin:     60,
		StartAt:         time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateAuction failed: %v", err)
	}
	return a
}

func (f *lifecycleFixture) bid(t *testing.T, auctionID, bidderID string, amount int64) {
	t.Helper()
	_, err := f.coord.PlaceBid(BidRequest{AuctionID: auctionID, BidderID: bidderID, BidType: domain.BidDirect, Amount: amount})
	if err != nil {
		t.Fatalf("bid %d by %s failed: %v", amount, bidderID, err)
	}
}

func (f *lifecycleFixture) drain(t *testing.T) {
	t.Helper()
	consumer := ledger.NewConsumer(f.queue, f.store, slog.Default(), time.Millisecond)
	if err := consumer.DrainOnce(); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
}

func TestCreateAuction_Scheduled(t *testing.T) {
	f := setupLifecycle(t)

	a, err := f.life.CreateAuction(CreateAuctionRequest{
		SellerID:    "seller-1",
		Title:       "camera",
		StartPrice:  10_000,
		DurationMin: 60,
		StartAt:     time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("CreateAuction failed: %v", err)
	}
	if a.Status != domain.StatusScheduled {
		t.Errorf("expected SCHEDULED, got %s", a.Status)
	}
	if _, ok := f.cache.Snapshot(a.ID); ok {
		t.Error("scheduled auction should not be cached")
	}
}

func TestSweepDeadlines_OpensScheduled(t *testing.T) {
	f := setupLifecycle(t)

	a, err := f.life.CreateAuction(CreateAuctionRequest{
		SellerID:    "seller-1",
		Title:       "camera",
		StartPrice:  10_000,
		DurationMin: 60,
		StartAt:     time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateAuction failed: %v", err)
	}

	f.life.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	f.life.SweepDeadlines()

	fetched, _ := f.store.GetAuction(a.ID)
	if fetched.Status != domain.StatusBidding {
		t.Errorf("expected BIDDING after sweep, got %s", fetched.Status)
	}
	if _, ok := f.cache.Snapshot(a.ID); !ok {
		t.Error("opened auction should be cached")
	}
}

func TestSweepDeadlines_ZeroBidsFails(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)

	f.life.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	f.life.SweepDeadlines()

	fetched, _ := f.store.GetAuction(a.ID)
	if fetched.Status != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", fetched.Status)
	}
	if fetched.ActualEndTime == nil {
		t.Error("expected actual end time set")
	}
	if _, ok := f.cache.Snapshot(a.ID); ok {
		t.Error("closed auction should be evicted")
	}
	if len(f.sink.outcomes) != 1 || !f.sink.outcomes[0].Failed {
		t.Fatalf("expected one failed outcome, got %+v", f.sink.outcomes)
	}
}

func TestSweepDeadlines_ClosesWithWinners(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)

	f.bid(t, a.ID, "bidder-1", 11_000)
	f.bid(t, a.ID, "bidder-2", 12_000)
	f.bid(t, a.ID, "bidder-3", 13_000)
	f.drain(t)

	f.life.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	f.life.SweepDeadlines()

	fetched, _ := f.store.GetAuction(a.ID)
	if fetched.Status != domain.StatusEnded {
		t.Fatalf("expected ENDED, got %s", fetched.Status)
	}
	if fetched.WinnerID != "bidder-3" {
		t.Errorf("expected winner bidder-3, got %s", fetched.WinnerID)
	}
	if fetched.CurrentPrice != 13_000 {
		t.Errorf("expected final price 13000, got %d", fetched.CurrentPrice)
	}

	winnings, _ := f.store.WinningsForAuction(a.ID)
	if len(winnings) != 2 {
		t.Fatalf("expected 2 winnings, got %d", len(winnings))
	}
	if winnings[0].BidderID != "bidder-3" || winnings[0].Status != domain.WinningPendingResponse {
		t.Errorf("unexpected rank 1: %+v", winnings[0])
	}
	if winnings[0].ResponseDeadline == nil {
		t.Error("rank 1 deadline must be persisted")
	}
	if winnings[1].BidderID != "bidder-2" || winnings[1].Status != domain.WinningStandby {
		t.Errorf("unexpected rank 2: %+v", winnings[1])
	}

	if len(f.sink.outcomes) != 1 || f.sink.outcomes[0].WinnerID != "bidder-3" {
		t.Fatalf("expected winner outcome, got %+v", f.sink.outcomes)
	}
}

func TestSweepDeadlines_CacheFallbackWhenDurableLags(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)

	// Bids land in the cache and ledger but are never drained: the durable
	// replica is empty at closure time.
	f.bid(t, a.ID, "bidder-1", 11_000)
	f.bid(t, a.ID, "bidder-2", 12_000)
	f.bid(t, a.ID, "bidder-3", 13_000)

	f.life.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	f.life.SweepDeadlines()

	fetched, _ := f.store.GetAuction(a.ID)
	if fetched.Status != domain.StatusEnded {
		t.Fatalf("expected ENDED, got %s", fetched.Status)
	}
	// Winner determination is deterministic regardless of replica lag.
	if fetched.WinnerID != "bidder-3" {
		t.Errorf("expected winner bidder-3 from cache slots, got %s", fetched.WinnerID)
	}

	winnings, _ := f.store.WinningsForAuction(a.ID)
	if len(winnings) != 2 || winnings[1].BidderID != "bidder-2" {
		t.Fatalf("expected bidder-2 as rank 2, got %+v", winnings)
	}
}

func TestSweepNoShows_PromotesEligibleSecond(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)
	a.Status = domain.StatusEnded
	a.WinnerID = "bidder-3"
	if err := f.store.SaveAuction(a); err != nil {
		t.Fatalf("SaveAuction failed: %v", err)
	}

	first := domain.NewFirstRank(a.ID, "bidder-3", 13_000, -time.Hour)
	second := domain.NewSecondRank(a.ID, "bidder-2", 12_000)
	if err := f.store.CreateWinning(&first); err != nil {
		t.Fatalf("CreateWinning failed: %v", err)
	}
	if err := f.store.CreateWinning(&second); err != nil {
		t.Fatalf("CreateWinning failed: %v", err)
	}

	f.life.SweepNoShows()

	winnings, _ := f.store.WinningsForAuction(a.ID)
	if winnings[0].Status != domain.WinningNoShow {
		t.Errorf("expected rank 1 NO_SHOW, got %s", winnings[0].Status)
	}
	// No instant-buy price: promotion is unconditional.
	if winnings[1].Status != domain.WinningPendingResponse {
		t.Errorf("expected rank 2 PENDING_RESPONSE, got %s", winnings[1].Status)
	}
	if winnings[1].ResponseDeadline == nil {
		t.Error("promoted candidate needs a deadline")
	}

	fetched, _ := f.store.GetAuction(a.ID)
	if fetched.WinnerID != "bidder-2" {
		t.Errorf("expected winner handover to bidder-2, got %s", fetched.WinnerID)
	}
	if fetched.CurrentPrice != 12_000 {
		t.Errorf("expected price at rank-2 bid 12000, got %d", fetched.CurrentPrice)
	}

	if len(f.sink.noShows) != 1 || f.sink.noShows[0].UserID != "bidder-3" {
		t.Fatalf("expected no-show notification for bidder-3, got %+v", f.sink.noShows)
	}
}

func TestSweepNoShows_IneligibleSecondFailsSale(t *testing.T) {
	f := setupLifecycle(t)
	// Instant-buy price 100,000: rank 2 must reach 90,000 to promote.
	a := f.createOpen(t, 10_000, 100_000)
	a.Status = domain.StatusEnded
	a.WinnerID = "bidder-3"
	if err := f.store.SaveAuction(a); err != nil {
		t.Fatalf("SaveAuction failed: %v", err)
	}

	first := domain.NewFirstRank(a.ID, "bidder-3", 95_000, -time.Hour)
	second := domain.NewSecondRank(a.ID, "bidder-2", 85_000)
	if err := f.store.CreateWinning(&first); err != nil {
		t.Fatalf("CreateWinning failed: %v", err)
	}
	if err := f.store.CreateWinning(&second); err != nil {
		t.Fatalf("CreateWinning failed: %v", err)
	}

	f.life.SweepNoShows()

	winnings, _ := f.store.WinningsForAuction(a.ID)
	if winnings[1].Status != domain.WinningFailed {
		t.Errorf("expected ineligible rank 2 FAILED, got %s", winnings[1].Status)
	}

	fetched, _ := f.store.GetAuction(a.ID)
	if fetched.Status != domain.StatusFailed {
		t.Errorf("expected sale FAILED, got %s", fetched.Status)
	}
	if fetched.WinnerID != "" {
		t.Errorf("expected winner cleared, got %s", fetched.WinnerID)
	}
}

func TestSweepNoShows_SecondNoShowFailsSale(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)
	a.Status = domain.StatusEnded
	if err := f.store.SaveAuction(a); err != nil {
		t.Fatalf("SaveAuction failed: %v", err)
	}

	// Rank 2 already promoted and now expired.
	second := domain.NewSecondRank(a.ID, "bidder-2", 12_000)
	if err := second.Promote(-time.Hour); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if err := f.store.CreateWinning(&second); err != nil {
		t.Fatalf("CreateWinning failed: %v", err)
	}

	f.life.SweepNoShows()

	fetched, _ := f.store.GetAuction(a.ID)
	if fetched.Status != domain.StatusFailed {
		t.Errorf("expected FAILED after rank-2 expiry, got %s", fetched.Status)
	}

	// Rank 2 fails without the no-show sanction.
	winnings, _ := f.store.WinningsForAuction(a.ID)
	if winnings[0].Status != domain.WinningFailed {
		t.Errorf("expected rank 2 FAILED, got %s", winnings[0].Status)
	}
	if len(f.sink.noShows) != 0 {
		t.Errorf("expected no penalty notification for rank 2, got %+v", f.sink.noShows)
	}
}

func TestRespond_CreatesTrade(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)
	a.Status = domain.StatusEnded
	a.WinnerID = "bidder-3"
	if err := f.store.SaveAuction(a); err != nil {
		t.Fatalf("SaveAuction failed: %v", err)
	}
	first := domain.NewFirstRank(a.ID, "bidder-3", 13_000, 24*time.Hour)
	if err := f.store.CreateWinning(&first); err != nil {
		t.Fatalf("CreateWinning failed: %v", err)
	}

	trade, err := f.life.Respond(a.ID, "bidder-3")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if trade.BuyerID != "bidder-3" || trade.FinalPrice != 13_000 {
		t.Errorf("unexpected trade: %+v", trade)
	}
	if trade.SellerID != "seller-1" {
		t.Errorf("expected seller-1, got %s", trade.SellerID)
	}

	// A second response finds no pending candidate.
	if _, err := f.life.Respond(a.ID, "bidder-3"); !errors.Is(err, domain.ErrWinningNotFound) {
		t.Errorf("expected ErrWinningNotFound on replay, got %v", err)
	}
}

func TestRespond_WrongBidder(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)
	first := domain.NewFirstRank(a.ID, "bidder-3", 13_000, 24*time.Hour)
	if err := f.store.CreateWinning(&first); err != nil {
		t.Fatalf("CreateWinning failed: %v", err)
	}

	if _, err := f.life.Respond(a.ID, "bidder-2"); !errors.Is(err, domain.ErrNotWinningBidder) {
		t.Errorf("expected ErrNotWinningBidder, got %v", err)
	}
}

func TestRespond_InstantBuyPendingResolves(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 50_000, 100_000)

	f.bid(t, a.ID, "bidder-1", 85_000)
	if _, err := f.coord.PlaceBid(BidRequest{AuctionID: a.ID, BidderID: "bidder-2", BidType: domain.BidInstantBuy}); err != nil {
		t.Fatalf("instant buy failed: %v", err)
	}
	f.drain(t)

	first := domain.NewFirstRank(a.ID, "bidder-2", 100_000, time.Hour)
	if err := f.store.CreateWinning(&first); err != nil {
		t.Fatalf("CreateWinning failed: %v", err)
	}

	trade, err := f.life.Respond(a.ID, "bidder-2")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if trade.FinalPrice != 100_000 {
		t.Errorf("expected trade at 100000, got %d", trade.FinalPrice)
	}

	fetched, _ := f.store.GetAuction(a.ID)
	if fetched.Status != domain.StatusEnded {
		t.Errorf("expected ENDED after response, got %s", fetched.Status)
	}
	if fetched.WinnerID != "bidder-2" {
		t.Errorf("expected winner bidder-2, got %s", fetched.WinnerID)
	}
}

func TestCancel(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)

	if err := f.life.Cancel(a.ID, "someone-else"); !errors.Is(err, domain.ErrNotSeller) {
		t.Errorf("expected ErrNotSeller, got %v", err)
	}

	if err := f.life.Cancel(a.ID, "seller-1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	fetched, _ := f.store.GetAuction(a.ID)
	if fetched.Status != domain.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", fetched.Status)
	}

	// Cancelled auctions reject bids.
	_, err := f.coord.PlaceBid(BidRequest{AuctionID: a.ID, BidderID: "bidder-1", BidType: domain.BidOneTouch})
	var rej *domain.BidRejection
	if !errors.As(err, &rej) || !errors.Is(rej, domain.ErrAuctionNotOpen) {
		t.Errorf("expected not-open rejection, got %v", err)
	}
}

func TestCancel_WithBidsRejected(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)
	f.bid(t, a.ID, "bidder-1", 11_000)

	if err := f.life.Cancel(a.ID, "seller-1"); !errors.Is(err, domain.ErrAuctionHasBids) {
		t.Errorf("expected ErrAuctionHasBids, got %v", err)
	}
}

func TestAdminCancel_WithBids(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)
	f.bid(t, a.ID, "bidder-1", 11_000)

	if err := f.life.AdminCancel(a.ID); err != nil {
		t.Fatalf("AdminCancel failed: %v", err)
	}

	fetched, _ := f.store.GetAuction(a.ID)
	if fetched.Status != domain.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", fetched.Status)
	}
	if fetched.CurrentPrice != 11_000 || fetched.TotalBidCount != 1 {
		t.Errorf("expected hot fields frozen at 11000/1, got %d/%d", fetched.CurrentPrice, fetched.TotalBidCount)
	}

	// Late bids see the terminal status.
	_, err := f.coord.PlaceBid(BidRequest{AuctionID: a.ID, BidderID: "bidder-2", BidType: domain.BidOneTouch})
	var rej *domain.BidRejection
	if !errors.As(err, &rej) || !errors.Is(rej, domain.ErrAuctionNotOpen) {
		t.Errorf("expected not-open rejection after admin cancel, got %v", err)
	}

	if err := f.life.AdminCancel(a.ID); !errors.Is(err, domain.ErrAuctionNotOpen) {
		t.Errorf("expected ErrAuctionNotOpen on repeat, got %v", err)
	}
}

func TestForceClose(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)
	f.bid(t, a.ID, "bidder-1", 11_000)
	f.drain(t)

	if err := f.life.ForceClose(a.ID); err != nil {
		t.Fatalf("ForceClose failed: %v", err)
	}
	fetched, _ := f.store.GetAuction(a.ID)
	if fetched.Status != domain.StatusEnded {
		t.Errorf("expected ENDED, got %s", fetched.Status)
	}
	if fetched.WinnerID != "bidder-1" {
		t.Errorf("expected winner bidder-1, got %s", fetched.WinnerID)
	}

	if err := f.life.ForceClose(a.ID); !errors.Is(err, domain.ErrAuctionNotOpen) {
		t.Errorf("expected ErrAuctionNotOpen on repeat, got %v", err)
	}
}

func TestAdjustDeadline(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)

	newEnd := time.Now().Add(3 * time.Hour)
	if err := f.life.AdjustDeadline(a.ID, newEnd); err != nil {
		t.Fatalf("AdjustDeadline failed: %v", err)
	}

	fetched, _ := f.store.GetAuction(a.ID)
	if !fetched.ScheduledEndTime.Equal(newEnd) {
		t.Errorf("expected durable deadline %v, got %v", newEnd, fetched.ScheduledEndTime)
	}
	snap, _ := f.cache.Snapshot(a.ID)
	if !snap.ScheduledEnd.Equal(newEnd) {
		t.Errorf("expected hot deadline %v, got %v", newEnd, snap.ScheduledEnd)
	}
}

func TestForceNoShow(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)
	a.Status = domain.StatusEnded
	if err := f.store.SaveAuction(a); err != nil {
		t.Fatalf("SaveAuction failed: %v", err)
	}
	first := domain.NewFirstRank(a.ID, "bidder-3", 13_000, 24*time.Hour)
	if err := f.store.CreateWinning(&first); err != nil {
		t.Fatalf("CreateWinning failed: %v", err)
	}

	if err := f.life.ForceNoShow(a.ID); err != nil {
		t.Fatalf("ForceNoShow failed: %v", err)
	}
	winnings, _ := f.store.WinningsForAuction(a.ID)
	if winnings[0].Status != domain.WinningNoShow {
		t.Errorf("expected NO_SHOW, got %s", winnings[0].Status)
	}
}

func TestRebuildCache_ReplaysLedgerTail(t *testing.T) {
	f := setupLifecycle(t)
	a := f.createOpen(t, 10_000, 0)

	f.bid(t, a.ID, "bidder-1", 11_000)
	f.bid(t, a.ID, "bidder-2", 12_000)
	f.drain(t)
	// One more bid that never reaches the durable store.
	f.bid(t, a.ID, "bidder-3", 13_000)

	// Simulate restart: empty cache, rebuild from durable rows plus the
	// un-drained ledger tail.
	fresh := cache.New()
	life := NewLifecycle(fresh, f.store, f.hub, f.sink, testConfig(), slog.Default())

	cursor, err := f.queue.Cursor()
	if err != nil {
		t.Fatalf("Cursor failed: %v", err)
	}
	records, err := f.queue.ReadFrom(cursor, 100)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	replay := make([]RecordView, 0, len(records))
	for _, rec := range records {
		replay = append(replay, RecordView{
			AuctionID:      rec.Bid.AuctionID,
			BidderID:       rec.Bid.BidderID,
			Amount:         rec.Bid.Amount,
			CurrentPrice:   rec.CurrentPrice,
			TotalBidCount:  rec.TotalBidCount,
			ScheduledEnd:   rec.ScheduledEnd,
			Status:         rec.Status,
			ExtensionCount: rec.ExtensionCount,
		})
	}

	if err := life.RebuildCache(replay); err != nil {
		t.Fatalf("RebuildCache failed: %v", err)
	}

	snap, ok := fresh.Snapshot(a.ID)
	if !ok {
		t.Fatal("auction missing after rebuild")
	}
	if snap.CurrentPrice != 13_000 || snap.TotalBidCount != 3 {
		t.Errorf("expected replayed state 13000/3, got %d/%d", snap.CurrentPrice, snap.TotalBidCount)
	}
	if snap.TopBidderID != "bidder-3" || snap.SecondBidderID != "bidder-2" {
		t.Errorf("expected top-2 bidder-3/bidder-2, got %s/%s", snap.TopBidderID, snap.SecondBidderID)
	}
}
