package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus enumerates the lifecycle states of an auction.
// Transitions are monotonic: a terminal auction never re-opens.
type AuctionStatus string

const (
	StatusScheduled         AuctionStatus = "SCHEDULED"
	StatusBidding           AuctionStatus = "BIDDING"
	StatusInstantBuyPending AuctionStatus = "INSTANT_BUY_PENDING"
	StatusEnded             AuctionStatus = "ENDED"
	StatusFailed            AuctionStatus = "FAILED"
	StatusCancelled         AuctionStatus = "CANCELLED"
)

// Open reports whether bids can still be accepted in this status.
func (s AuctionStatus) Open() bool {
	return s == StatusBidding || s == StatusInstantBuyPending
}

// Terminal reports whether the status can never change again.
func (s AuctionStatus) Terminal() bool {
	return s == StatusEnded || s == StatusFailed || s == StatusCancelled
}

// Auction is the durable system-of-record row. Hot fields (current price,
// deadline, counts) are mirrored from the state cache by the reconciliation
// consumer while the auction is open; after closure this row is authoritative.
type Auction struct {
	ID                 string        `gorm:"primaryKey" json:"id"`
	SellerID           string        `gorm:"index" json:"seller_id"`
	Title              string        `json:"title"`
	StartPrice         int64         `json:"start_price"`
	CurrentPrice       int64         `json:"current_price"`
	InstantBuyPrice    int64         `json:"instant_buy_price"` // 0 = no instant buy
	BidIncrement       int64         `json:"bid_increment"`
	Status             AuctionStatus `gorm:"index" json:"status"`
	ScheduledStartTime time.Time     `json:"scheduled_start_time"`
	ScheduledEndTime   time.Time     `gorm:"index" json:"scheduled_end_time"`
	ActualEndTime      *time.Time    `json:"actual_end_time,omitempty"`
	ExtensionCount     int           `json:"extension_count"`
	TotalBidCount      int           `json:"total_bid_count"`
	WinnerID           string        `json:"winner_id,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// NewAuction validates seller input and builds the initial auction.
// The auction opens immediately unless startAt is in the future.
func NewAuction(sellerID, title string, startPrice, instantBuyPrice int64, duration time.Duration, startAt time.Time) (*Auction, error) {
	if sellerID == "" {
		return nil, ErrSellerRequired
	}
	if startPrice <= 0 {
		return nil, ErrInvalidStartPrice
	}
	if instantBuyPrice != 0 && instantBuyPrice <= startPrice {
		return nil, ErrInstantBuyTooLow
	}
	if duration <= 0 {
		return nil, ErrInvalidDuration
	}

	now := time.Now()
	status := StatusBidding
	if startAt.After(now) {
		status = StatusScheduled
	} else {
		startAt = now
	}

	return &Auction{
		ID:                 uuid.NewString(),
		SellerID:           sellerID,
		Title:              title,
		StartPrice:         startPrice,
		CurrentPrice:       startPrice,
		InstantBuyPrice:    instantBuyPrice,
		BidIncrement:       BaseIncrementFor(startPrice),
		Status:             status,
		ScheduledStartTime: startAt,
		ScheduledEndTime:   startAt.Add(duration),
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// State builds the hot cache view from the durable row.
func (a *Auction) State() AuctionState {
	return AuctionState{
		AuctionID:       a.ID,
		SellerID:        a.SellerID,
		Status:          a.Status,
		StartPrice:      a.StartPrice,
		CurrentPrice:    a.CurrentPrice,
		InstantBuyPrice: a.InstantBuyPrice,
		BaseIncrement:   a.BidIncrement,
		ExtensionCount:  a.ExtensionCount,
		TotalBidCount:   a.TotalBidCount,
		ScheduledStart:  a.ScheduledStartTime,
		ScheduledEnd:    a.ScheduledEndTime,
	}
}

// AuctionState is the mutable hot view of a not-yet-ended auction held by the
// fast state cache. It is a value type: readers get copies, and every accepted
// mutation bumps Version so concurrent writers can detect a lost race.
type AuctionState struct {
	AuctionID       string        `json:"auction_id"`
	SellerID        string        `json:"seller_id"`
	Status          AuctionStatus `json:"status"`
	StartPrice      int64         `json:"start_price"`
	CurrentPrice    int64         `json:"current_price"`
	InstantBuyPrice int64         `json:"instant_buy_price"`
	BaseIncrement   int64         `json:"base_increment"`
	ExtensionCount  int           `json:"extension_count"`
	TotalBidCount   int           `json:"total_bid_count"`
	ScheduledStart  time.Time     `json:"scheduled_start"`
	ScheduledEnd    time.Time     `json:"scheduled_end"`

	// Top-2 bidder slots, kept for winner determination when the durable
	// replica has not caught up at closure time.
	TopBidderID     string `json:"top_bidder_id"`
	TopBidAmount    int64  `json:"top_bid_amount"`
	SecondBidderID  string `json:"second_bidder_id"`
	SecondBidAmount int64  `json:"second_bid_amount"`

	Version uint64 `json:"version"`
}

// AdjustedIncrement returns the bid increment with the extension surcharge
// applied on top of the current price bracket.
func (s *AuctionState) AdjustedIncrement() int64 {
	return AdjustedIncrement(BaseIncrementFor(s.CurrentPrice), s.ExtensionCount)
}

// NextMinBid returns the lowest acceptable next bid amount.
func (s *AuctionState) NextMinBid() int64 {
	return s.CurrentPrice + s.AdjustedIncrement()
}

// InstantBuyOpen reports whether an instant-buy bid is still permitted:
// a buy-now price exists, the auction is in plain bidding, and the current
// price has not yet crossed threshold x instantBuyPrice.
func (s *AuctionState) InstantBuyOpen(threshold decimal.Decimal) bool {
	if s.InstantBuyPrice == 0 || s.Status != StatusBidding {
		return false
	}
	gate := threshold.Mul(decimal.NewFromInt(s.InstantBuyPrice))
	return decimal.NewFromInt(s.CurrentPrice).LessThan(gate)
}

// InExtensionWindow reports whether a bid at now falls inside the
// late-activity window that triggers a deadline extension.
func (s *AuctionState) InExtensionWindow(now time.Time, window time.Duration) bool {
	return s.Status == StatusBidding && !now.Before(s.ScheduledEnd.Add(-window)) && now.Before(s.ScheduledEnd)
}
