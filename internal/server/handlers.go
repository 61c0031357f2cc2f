package server

import (
	"errors"
	"net/http"
	"time"

	"fairbid/internal/domain"
	"fairbid/internal/engine"

	"github.com/gin-gonic/gin"
)

// Store is the durable-store surface the read endpoints use.
type Store interface {
	GetAuction(id string) (*domain.Auction, error)
	WinningsForAuction(auctionID string) ([]domain.Winning, error)
	BidsForAuction(auctionID string) ([]domain.Bid, error)
	CountBids(auctionID string) (int64, error)
}

// Rejection codes carried in error responses.
const (
	codeNotFound           = "AUCTION_NOT_FOUND"
	codeNotOpen            = "AUCTION_NOT_OPEN"
	codeBidTooLow          = "BID_TOO_LOW"
	codeSelfBid            = "SELF_BID_FORBIDDEN"
	codeInstantBuyGate     = "INSTANT_BUY_UNAVAILABLE"
	codeRaceLost           = "RACE_LOST"
	codeInvalidRequest     = "INVALID_REQUEST"
	codeNotSeller          = "NOT_SELLER"
	codeAuctionHasBids     = "AUCTION_HAS_BIDS"
	codeWinningNotFound    = "WINNING_NOT_FOUND"
	codeNotWinningBidder   = "NOT_WINNING_BIDDER"
	codeWinningNotPending  = "WINNING_NOT_PENDING"
	codeStorageUnavailable = "STORAGE_UNAVAILABLE"
	codeInternal           = "INTERNAL"
)

func (s *Server) handleCreateAuction(c *gin.Context) {
	var req engine.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}

	a, err := s.life.CreateAuction(req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) handleGetAuction(c *gin.Context) {
	id := c.Param("id")

	// Hot path: open auctions come straight out of the cache.
	if snap, ok := s.cache.Snapshot(id); ok {
		c.JSON(http.StatusOK, gin.H{
			"auction_id":      snap.AuctionID,
			"status":          snap.Status,
			"current_price":   snap.CurrentPrice,
			"next_min_bid":    snap.NextMinBid(),
			"bid_increment":   snap.AdjustedIncrement(),
			"deadline":        snap.ScheduledEnd,
			"total_bid_count": snap.TotalBidCount,
			"extension_count": snap.ExtensionCount,
		})
		return
	}

	a, err := s.store.GetAuction(id)
	if err != nil {
		s.writeError(c, domain.NewInfraError("load auction", err))
		return
	}
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": codeNotFound, "error": "auction not found"})
		return
	}

	resp := gin.H{
		"auction_id":      a.ID,
		"status":          a.Status,
		"current_price":   a.CurrentPrice,
		"deadline":        a.ScheduledEndTime,
		"total_bid_count": a.TotalBidCount,
		"extension_count": a.ExtensionCount,
		"winner_id":       a.WinnerID,
	}
	if winnings, err := s.store.WinningsForAuction(a.ID); err == nil && len(winnings) > 0 {
		resp["winnings"] = winnings
	}
	c.JSON(http.StatusOK, resp)
}

// handleListBids serves the durable bid history. Bids just accepted may
// still be in the ledger; the count shows what has been reconciled.
func (s *Server) handleListBids(c *gin.Context) {
	id := c.Param("id")

	a, err := s.store.GetAuction(id)
	if err != nil {
		s.writeError(c, domain.NewInfraError("load auction", err))
		return
	}
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"code": codeNotFound, "error": "auction not found"})
		return
	}

	bids, err := s.store.BidsForAuction(id)
	if err != nil {
		s.writeError(c, domain.NewInfraError("load bids", err))
		return
	}
	durable, err := s.store.CountBids(id)
	if err != nil {
		s.writeError(c, domain.NewInfraError("count bids", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"auction_id":        id,
		"bids":              bids,
		"durable_bid_count": durable,
	})
}

func (s *Server) handlePlaceBid(c *gin.Context) {
	var body struct {
		BidderID string         `json:"bidder_id"`
		BidType  domain.BidType `json:"bid_type"`
		Amount   int64          `json:"amount"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
		return
	}

	res, err := s.coord.PlaceBid(engine.BidRequest{
		AuctionID: c.Param("id"),
		BidderID:  body.BidderID,
		BidType:   body.BidType,
		Amount:    body.Amount,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleRespond(c *gin.Context) {
	var body struct {
		BidderID string `json:"bidder_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.BidderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "bidder_id required"})
		return
	}

	trade, err := s.life.Respond(c.Param("id"), body.BidderID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, trade)
}

func (s *Server) handleCancel(c *gin.Context) {
	var body struct {
		SellerID string `json:"seller_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.SellerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "seller_id required"})
		return
	}

	if err := s.life.Cancel(c.Param("id"), body.SellerID); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleForceClose(c *gin.Context) {
	if err := s.life.ForceClose(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAdminCancel(c *gin.Context) {
	if err := s.life.AdminCancel(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAdjustDeadline(c *gin.Context) {
	var body struct {
		NewEnd time.Time `json:"new_end"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.NewEnd.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": "new_end required"})
		return
	}

	if err := s.life.AdjustDeadline(c.Param("id"), body.NewEnd); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleForceNoShow(c *gin.Context) {
	if err := s.life.ForceNoShow(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError maps engine errors onto HTTP statuses and stable codes.
func (s *Server) writeError(c *gin.Context, err error) {
	var rej *domain.BidRejection
	if errors.As(err, &rej) {
		status, code := rejectionStatus(rej.Reason)
		body := gin.H{"code": code, "error": rej.Reason.Error()}
		if rej.NextMinBid > 0 {
			body["next_min_bid"] = rej.NextMinBid
		}
		c.JSON(status, body)
		return
	}

	var infraErr *domain.InfraError
	if errors.As(err, &infraErr) {
		status := http.StatusInternalServerError
		code := codeInternal
		if infraErr.IsRetriable() {
			status = http.StatusServiceUnavailable
			code = codeStorageUnavailable
		}
		c.JSON(status, gin.H{"code": code, "error": "temporary failure, retry"})
		return
	}

	switch {
	case errors.Is(err, domain.ErrAuctionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": codeNotFound, "error": err.Error()})
	case errors.Is(err, domain.ErrWinningNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": codeWinningNotFound, "error": err.Error()})
	case errors.Is(err, domain.ErrNotWinningBidder):
		c.JSON(http.StatusForbidden, gin.H{"code": codeNotWinningBidder, "error": err.Error()})
	case errors.Is(err, domain.ErrNotSeller):
		c.JSON(http.StatusForbidden, gin.H{"code": codeNotSeller, "error": err.Error()})
	case errors.Is(err, domain.ErrAuctionHasBids):
		c.JSON(http.StatusConflict, gin.H{"code": codeAuctionHasBids, "error": err.Error()})
	case errors.Is(err, domain.ErrWinningNotPending):
		c.JSON(http.StatusConflict, gin.H{"code": codeWinningNotPending, "error": err.Error()})
	case errors.Is(err, domain.ErrAuctionNotOpen):
		c.JSON(http.StatusConflict, gin.H{"code": codeNotOpen, "error": err.Error()})
	case errors.Is(err, domain.ErrSellerRequired),
		errors.Is(err, domain.ErrInvalidStartPrice),
		errors.Is(err, domain.ErrInstantBuyTooLow),
		errors.Is(err, domain.ErrInvalidDuration):
		c.JSON(http.StatusBadRequest, gin.H{"code": codeInvalidRequest, "error": err.Error()})
	default:
		s.log.Error("unhandled error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": codeInternal, "error": "internal error"})
	}
}

func rejectionStatus(reason error) (int, string) {
	switch {
	case errors.Is(reason, domain.ErrBidTooLow):
		return http.StatusBadRequest, codeBidTooLow
	case errors.Is(reason, domain.ErrAmountRequired):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.Is(reason, domain.ErrSelfBid):
		return http.StatusForbidden, codeSelfBid
	case errors.Is(reason, domain.ErrAuctionNotOpen):
		return http.StatusConflict, codeNotOpen
	case errors.Is(reason, domain.ErrInstantBuyUnavailable):
		return http.StatusConflict, codeInstantBuyGate
	case errors.Is(reason, domain.ErrRaceLost):
		return http.StatusConflict, codeRaceLost
	default:
		return http.StatusBadRequest, codeInvalidRequest
	}
}
