package domain

import (
	"time"

	"github.com/google/uuid"
)

// BidType distinguishes how the bid amount was determined.
type BidType string

const (
	// BidOneTouch accepts the current minimum increment without an amount.
	BidOneTouch BidType = "ONE_TOUCH"
	// BidDirect carries an explicit caller-chosen amount.
	BidDirect BidType = "DIRECT"
	// BidInstantBuy pays the preset buy-now price.
	BidInstantBuy BidType = "INSTANT_BUY"
)

// Valid reports whether t is one of the known bid types.
func (t BidType) Valid() bool {
	return t == BidOneTouch || t == BidDirect || t == BidInstantBuy
}

// Bid is an accepted bid. Immutable once written; Seq is the per-auction
// acceptance sequence and breaks ties when amounts coincide.
type Bid struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	AuctionID string    `gorm:"index" json:"auction_id"`
	BidderID  string    `gorm:"index" json:"bidder_id"`
	Amount    int64     `json:"amount"`
	BidType   BidType   `json:"bid_type"`
	Seq       int       `json:"seq"`
	PlacedAt  time.Time `json:"placed_at"`
}

// NewBid builds an accepted bid record with a fresh identity.
func NewBid(auctionID, bidderID string, amount int64, bidType BidType, seq int, placedAt time.Time) Bid {
	return Bid{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		BidType:   bidType,
		Seq:       seq,
		PlacedAt:  placedAt,
	}
}
