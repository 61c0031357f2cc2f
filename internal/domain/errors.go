package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// Validation errors: rejected synchronously, never retried by the engine.
var (
	// ErrAuctionNotFound is returned when no auction exists for the id.
	ErrAuctionNotFound = errors.New("auction not found")

	// ErrAuctionNotOpen is returned for bids against a closed, cancelled,
	// or not-yet-started auction.
	ErrAuctionNotOpen = errors.New("auction not open")

	// ErrBidTooLow is returned when an amount is below the current minimum.
	ErrBidTooLow = errors.New("bid too low")

	// ErrSelfBid is returned when a seller bids on their own auction.
	ErrSelfBid = errors.New("self bid forbidden")

	// ErrInstantBuyUnavailable is returned when the buy-now gate has closed
	// or no instant-buy price was set.
	ErrInstantBuyUnavailable = errors.New("instant buy unavailable")

	// ErrAmountRequired is returned for a DIRECT bid with no amount.
	ErrAmountRequired = errors.New("bid amount required")
)

// ErrRaceLost is a contention error: the snapshot a bid was evaluated
// against changed before commit. Expected and frequent under load.
var ErrRaceLost = errors.New("race lost")

// Seller input errors.
var (
	ErrSellerRequired    = errors.New("seller id required")
	ErrInvalidStartPrice = errors.New("start price must be positive")
	ErrInstantBuyTooLow  = errors.New("instant buy price must exceed start price")
	ErrInvalidDuration   = errors.New("auction duration must be positive")
	ErrNotSeller         = errors.New("caller is not the seller")
	ErrAuctionHasBids    = errors.New("auction already has bids")
)

// Winning state errors.
var (
	ErrWinningNotPromotable = errors.New("winning candidate not promotable")
	ErrWinningNotPending    = errors.New("winning candidate not pending response")
	ErrWinningNotFound      = errors.New("winning candidate not found")
	ErrNotWinningBidder     = errors.New("caller is not the pending winning candidate")
)

// BidRejection wraps a bid rejection sentinel together with the fresh
// minimum the caller needs to resubmit. RACE_LOST rejections are retriable
// by the client; validation rejections are not.
type BidRejection struct {
	Reason     error // sentinel from the taxonomy above
	NextMinBid int64 // minimum acceptable amount at rejection time
}

func (e *BidRejection) Error() string {
	return e.Reason.Error()
}

func (e *BidRejection) Unwrap() error {
	return e.Reason
}

func (e *BidRejection) IsRetriable() bool {
	return errors.Is(e.Reason, ErrRaceLost)
}

// InfraError represents a cache/ledger/store failure that may be retriable.
// Bid acceptance fails closed on these: the bid is not accepted and the
// client sees a retryable error rather than a silently lost bid.
type InfraError struct {
	Op        string // Operation that failed (e.g., "ledger append", "store write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *InfraError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *InfraError) IsRetriable() bool {
	return e.Retriable
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// NewInfraError creates a retriable infrastructure error
func NewInfraError(op string, err error) *InfraError {
	return &InfraError{Op: op, Err: err, Retriable: true}
}

// NewFatalInfraError creates a non-retriable infrastructure error
func NewFatalInfraError(op string, err error) *InfraError {
	return &InfraError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
