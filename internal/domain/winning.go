package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WinningStatus enumerates the response states of a winning candidate.
type WinningStatus string

const (
	// WinningStandby: rank-2 candidate parked while rank 1 responds.
	WinningStandby WinningStatus = "STANDBY"
	// WinningPendingResponse: candidate must acknowledge before the deadline.
	WinningPendingResponse WinningStatus = "PENDING_RESPONSE"
	// WinningResponded: candidate acknowledged; a trade is created.
	WinningResponded WinningStatus = "RESPONDED"
	// WinningNoShow: response deadline passed without acknowledgment.
	WinningNoShow WinningStatus = "NO_SHOW"
	// WinningFailed: candidate never became eligible to respond.
	WinningFailed WinningStatus = "FAILED"
)

// Winning is a ranked winning candidate for a closed auction. The response
// deadline is persisted so a process restart cannot silently extend a
// non-responder's grace period.
type Winning struct {
	ID               string        `gorm:"primaryKey" json:"id"`
	AuctionID        string        `gorm:"index" json:"auction_id"`
	Rank             int           `json:"rank"`
	BidderID         string        `json:"bidder_id"`
	BidAmount        int64         `json:"bid_amount"`
	Status           WinningStatus `gorm:"index" json:"status"`
	ResponseDeadline *time.Time    `json:"response_deadline,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// NewFirstRank creates the rank-1 candidate with its response window armed.
func NewFirstRank(auctionID, bidderID string, amount int64, responseWindow time.Duration) Winning {
	now := time.Now()
	deadline := now.Add(responseWindow)
	return Winning{
		ID:               uuid.NewString(),
		AuctionID:        auctionID,
		Rank:             1,
		BidderID:         bidderID,
		BidAmount:        amount,
		Status:           WinningPendingResponse,
		ResponseDeadline: &deadline,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NewSecondRank creates the rank-2 candidate in standby. Its deadline is
// armed only on promotion.
func NewSecondRank(auctionID, bidderID string, amount int64) Winning {
	now := time.Now()
	return Winning{
		ID:        uuid.NewString(),
		AuctionID: auctionID,
		Rank:      2,
		BidderID:  bidderID,
		BidAmount: amount,
		Status:    WinningStandby,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// EligibleForPromotion reports whether this standby candidate may take over
// after a rank-1 no-show. When the auction carried an instant-buy price the
// bid must reach threshold x instantBuyPrice; without one, promotion is
// unconditional.
func (w *Winning) EligibleForPromotion(instantBuyPrice int64, threshold decimal.Decimal) bool {
	if w.Rank != 2 || w.Status != WinningStandby {
		return false
	}
	if instantBuyPrice == 0 {
		return true
	}
	gate := threshold.Mul(decimal.NewFromInt(instantBuyPrice))
	return decimal.NewFromInt(w.BidAmount).GreaterThanOrEqual(gate)
}

// Promote moves a standby rank-2 candidate to pending response with its own
// response window.
func (w *Winning) Promote(responseWindow time.Duration) error {
	if w.Rank != 2 || w.Status != WinningStandby {
		return ErrWinningNotPromotable
	}
	now := time.Now()
	deadline := now.Add(responseWindow)
	w.Status = WinningPendingResponse
	w.ResponseDeadline = &deadline
	w.UpdatedAt = now
	return nil
}

// MarkResponded records the buyer's acknowledgment.
func (w *Winning) MarkResponded() error {
	if w.Status != WinningPendingResponse {
		return ErrWinningNotPending
	}
	w.Status = WinningResponded
	w.UpdatedAt = time.Now()
	return nil
}

// MarkNoShow records a missed response deadline.
func (w *Winning) MarkNoShow() {
	w.Status = WinningNoShow
	w.UpdatedAt = time.Now()
}

// MarkFailed records that the candidate never got a chance to respond.
func (w *Winning) MarkFailed() {
	w.Status = WinningFailed
	w.UpdatedAt = time.Now()
}

// ResponseExpired reports whether the response deadline has passed.
func (w *Winning) ResponseExpired(now time.Time) bool {
	return w.ResponseDeadline != nil && now.After(*w.ResponseDeadline)
}
