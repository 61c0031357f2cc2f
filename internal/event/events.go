package event

import "time"

// Message is the closed set of real-time topic payloads. Every variant
// carries its auction topic; consumers switch on the concrete type and
// never inspect optional fields.
type Message interface {
	Topic() string
	Kind() string
}

// Kind tags carried on the wire envelope.
const (
	KindBidUpdate     = "BID_UPDATE"
	KindAuctionClosed = "AUCTION_CLOSED"
)

// BidUpdate is broadcast after every accepted bid. It never carries bidder
// identity or bid history; reconnecting clients re-fetch a snapshot instead.
type BidUpdate struct {
	AuctionID     string    `json:"auction_id"`
	CurrentPrice  int64     `json:"current_price"`
	NextMinBid    int64     `json:"next_min_bid"`
	BidIncrement  int64     `json:"bid_increment"`
	Deadline      time.Time `json:"deadline"`
	TotalBidCount int       `json:"total_bid_count"`
	Extended      bool      `json:"extended"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (m BidUpdate) Topic() string { return m.AuctionID }
func (m BidUpdate) Kind() string  { return KindBidUpdate }

// AuctionClosed is broadcast once when an auction leaves the open states.
type AuctionClosed struct {
	AuctionID string    `json:"auction_id"`
	ClosedAt  time.Time `json:"closed_at"`
}

func (m AuctionClosed) Topic() string { return m.AuctionID }
func (m AuctionClosed) Kind() string  { return KindAuctionClosed }

// Collaborator events, delivered to registered sinks rather than the
// real-time topic. Trade creation and reputation systems consume these.

// AuctionOutcome reports the authoritative closure result.
type AuctionOutcome struct {
	AuctionID  string    `json:"auction_id"`
	WinnerID   string    `json:"winner_id,omitempty"`
	FinalPrice int64     `json:"final_price,omitempty"`
	Failed     bool      `json:"failed"`
	ClosedAt   time.Time `json:"closed_at"`
}

// CandidateNoShow reports a winning candidate that missed its response
// deadline, for the reputation/penalty collaborator.
type CandidateNoShow struct {
	UserID     string    `json:"user_id"`
	AuctionID  string    `json:"auction_id"`
	Rank       int       `json:"rank"`
	OccurredAt time.Time `json:"occurred_at"`
}
