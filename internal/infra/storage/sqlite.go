package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fairbid/internal/domain"
	"fairbid/internal/ledger"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage is the durable system of record. While an auction is open its hot
// fields lag the state cache; the reconciliation consumer keeps them moving.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens the SQLite database at path and runs migrations.
func NewStorage(path string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Pure Go sqlite, no cgo.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Auction{}, &domain.Bid{}, &domain.Winning{}, &domain.Trade{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// ======================================================================================
// Auction Operations
// ======================================================================================

// CreateAuction inserts a new auction row.
func (s *Storage) CreateAuction(a *domain.Auction) error {
	return s.db.Create(a).Error
}

// GetAuction retrieves an auction by ID. Not found is not an error.
func (s *Storage) GetAuction(id string) (*domain.Auction, error) {
	var a domain.Auction
	err := s.db.First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveAuction persists the full auction row.
func (s *Storage) SaveAuction(a *domain.Auction) error {
	a.UpdatedAt = time.Now()
	return s.db.Save(a).Error
}

// OpenAuctions returns all auctions that may still need lifecycle work:
// scheduled ones waiting to open and open ones waiting to close.
func (s *Storage) OpenAuctions() ([]domain.Auction, error) {
	var auctions []domain.Auction
	err := s.db.
		Where("status IN ?", []domain.AuctionStatus{
			domain.StatusScheduled,
			domain.StatusBidding,
			domain.StatusInstantBuyPending,
		}).
		Find(&auctions).Error
	return auctions, err
}

// MirrorHotFields updates only the cache-mirrored columns of an auction.
// Used by the reconciliation consumer so a lagging mirror never clobbers
// lifecycle fields written elsewhere. Rows that already reached a terminal
// status are left untouched: the lifecycle froze them at closure, and a
// late drain must not move the status backward.
func (s *Storage) MirrorHotFields(auctionID string, currentPrice int64, totalBidCount int, scheduledEnd time.Time, status domain.AuctionStatus, extensionCount int) error {
	return s.db.Model(&domain.Auction{}).
		Where("id = ? AND status NOT IN ?", auctionID, []domain.AuctionStatus{
			domain.StatusEnded,
			domain.StatusFailed,
			domain.StatusCancelled,
		}).
		Updates(map[string]any{
			"current_price":      currentPrice,
			"total_bid_count":    totalBidCount,
			"scheduled_end_time": scheduledEnd,
			"status":             status,
			"extension_count":    extensionCount,
			"updated_at":         time.Now(),
		}).Error
}

// ======================================================================================
// Bid Operations
// ======================================================================================

// SaveBid inserts an accepted bid. Replays are ignored so the ledger drain
// can deliver at least once.
func (s *Storage) SaveBid(b *domain.Bid) error {
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(b).Error
}

// ApplyRecord applies one drained ledger record: insert the bid and mirror
// the hot fields the commit produced. Safe to replay.
func (s *Storage) ApplyRecord(rec *ledger.Record) error {
	if err := s.SaveBid(&rec.Bid); err != nil {
		return err
	}
	return s.MirrorHotFields(rec.Bid.AuctionID, rec.CurrentPrice, rec.TotalBidCount,
		rec.ScheduledEnd, rec.Status, rec.ExtensionCount)
}

// BidsForAuction returns all bids of an auction in acceptance order.
func (s *Storage) BidsForAuction(auctionID string) ([]domain.Bid, error) {
	var bids []domain.Bid
	err := s.db.
		Where("auction_id = ?", auctionID).
		Order("seq asc").
		Find(&bids).Error
	return bids, err
}

// TopBids returns the highest bids of an auction, one per bidder, ordered by
// amount descending with acceptance order breaking ties.
func (s *Storage) TopBids(auctionID string, limit int) ([]domain.Bid, error) {
	var bids []domain.Bid
	err := s.db.
		Where("auction_id = ?", auctionID).
		Order("amount desc, seq asc").
		Find(&bids).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, limit)
	top := make([]domain.Bid, 0, limit)
	for _, b := range bids {
		if seen[b.BidderID] {
			continue
		}
		seen[b.BidderID] = true
		top = append(top, b)
		if len(top) == limit {
			break
		}
	}
	return top, nil
}

// CountBids returns the number of durable bids for one auction.
func (s *Storage) CountBids(auctionID string) (int64, error) {
	var n int64
	err := s.db.Model(&domain.Bid{}).Where("auction_id = ?", auctionID).Count(&n).Error
	return n, err
}

// CountAllBids returns the total number of durable bids.
func (s *Storage) CountAllBids() (int64, error) {
	var n int64
	err := s.db.Model(&domain.Bid{}).Count(&n).Error
	return n, err
}

// ======================================================================================
// Winning Operations
// ======================================================================================

// CreateWinning inserts a winning candidate row.
func (s *Storage) CreateWinning(w *domain.Winning) error {
	return s.db.Create(w).Error
}

// SaveWinning persists a winning candidate.
func (s *Storage) SaveWinning(w *domain.Winning) error {
	return s.db.Save(w).Error
}

// WinningsForAuction returns the candidates of an auction ordered by rank.
func (s *Storage) WinningsForAuction(auctionID string) ([]domain.Winning, error) {
	var winnings []domain.Winning
	err := s.db.
		Where("auction_id = ?", auctionID).
		Order("rank asc").
		Find(&winnings).Error
	return winnings, err
}

// PendingWinning returns the PENDING_RESPONSE candidate for an auction, or
// nil when none exists.
func (s *Storage) PendingWinning(auctionID string) (*domain.Winning, error) {
	var w domain.Winning
	err := s.db.
		Where("auction_id = ? AND status = ?", auctionID, domain.WinningPendingResponse).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ExpiredPendingWinnings returns all PENDING_RESPONSE candidates whose
// deadline has passed.
func (s *Storage) ExpiredPendingWinnings(now time.Time) ([]domain.Winning, error) {
	var winnings []domain.Winning
	err := s.db.
		Where("status = ? AND response_deadline IS NOT NULL AND response_deadline <= ?",
			domain.WinningPendingResponse, now).
		Find(&winnings).Error
	return winnings, err
}

// ======================================================================================
// Trade Operations
// ======================================================================================

// CreateTrade inserts the trade for a responded auction. Duplicate creation
// for the same auction fails on the unique index.
func (s *Storage) CreateTrade(t *domain.Trade) error {
	return s.db.Create(t).Error
}

// GetTrade retrieves the trade of an auction. Not found is not an error.
func (s *Storage) GetTrade(auctionID string) (*domain.Trade, error) {
	var t domain.Trade
	err := s.db.First(&t, "auction_id = ?", auctionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
