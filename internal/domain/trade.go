package domain

import (
	"time"

	"github.com/google/uuid"
)

// TradeStatus tracks a trade after creation. Delivery/payment collaborators
// move it beyond CREATED; the engine only ever creates trades.
type TradeStatus string

const (
	TradeCreated TradeStatus = "CREATED"
)

// Trade is created once a winning candidate responds. One per auction.
type Trade struct {
	ID         string      `gorm:"primaryKey" json:"id"`
	AuctionID  string      `gorm:"uniqueIndex" json:"auction_id"`
	SellerID   string      `json:"seller_id"`
	BuyerID    string      `json:"buyer_id"`
	FinalPrice int64       `json:"final_price"`
	Status     TradeStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
}

// NewTrade builds the trade handed off to out-of-scope collaborators.
func NewTrade(auctionID, sellerID, buyerID string, finalPrice int64) Trade {
	return Trade{
		ID:         uuid.NewString(),
		AuctionID:  auctionID,
		SellerID:   sellerID,
		BuyerID:    buyerID,
		FinalPrice: finalPrice,
		Status:     TradeCreated,
		CreatedAt:  time.Now(),
	}
}
