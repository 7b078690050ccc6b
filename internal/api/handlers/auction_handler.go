package handlers

import (
	"net/http"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/internal/services"
	"auction-engine/pkg/clock"
	"auction-engine/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// HeaderUserID carries the caller identity; authentication happens upstream.
const HeaderUserID = "X-User-ID"

type AuctionHandler struct {
	auctionManager *services.AuctionManager
	bidService     *services.BidService
	negotiation    *services.NegotiationService
	clock          clock.Clock
	log            logger.Logger
}

type CreateAuctionRequest struct {
	ItemName          string           `json:"item_name"`
	StartingPrice     decimal.Decimal  `json:"starting_price"`
	BidIncrement      decimal.Decimal  `json:"bid_increment"`
	ReservePrice      *decimal.Decimal `json:"reserve_price"`
	GoLiveAt          time.Time        `json:"go_live_at"`
	DurationSeconds   int64            `json:"duration_seconds"`
	AutoExtendSeconds int64            `json:"auto_extend_seconds"`
}

type AuctionResponse struct {
	AuctionID         string           `json:"auction_id"`
	SellerID          string           `json:"seller_id"`
	ItemName          string           `json:"item_name"`
	Status            string           `json:"status"`
	StartingPrice     decimal.Decimal  `json:"starting_price"`
	BidIncrement      decimal.Decimal  `json:"bid_increment"`
	ReservePrice      *decimal.Decimal `json:"reserve_price,omitempty"`
	ReserveMet        bool             `json:"reserve_met"`
	GoLiveAt          time.Time        `json:"go_live_at"`
	EndsAt            time.Time        `json:"ends_at"`
	CurrentHighestBid decimal.Decimal  `json:"current_highest_bid"`
	HighestBidderID   string           `json:"highest_bidder_id,omitempty"`
	MinimumNextBid    decimal.Decimal  `json:"minimum_next_bid"`
	BidCount          int64            `json:"bid_count"`
	Decision          string           `json:"decision"`
}

type PlaceBidBody struct {
	Amount    decimal.Decimal  `json:"amount"`
	MaxAmount *decimal.Decimal `json:"max_amount"`
}

type BidResponse struct {
	BidID           string           `json:"bid_id"`
	AuctionID       string           `json:"auction_id"`
	BidderID        string           `json:"bidder_id"`
	Amount          decimal.Decimal  `json:"amount"`
	MaxAmount       *decimal.Decimal `json:"max_amount,omitempty"`
	Type            string           `json:"type"`
	Source          string           `json:"source"`
	Sequence        int64            `json:"sequence"`
	Winning         bool             `json:"winning"`
	PlacedAt        time.Time        `json:"placed_at"`
	CurrentHighest  *decimal.Decimal `json:"current_highest,omitempty"`
	HighestBidderID string           `json:"highest_bidder_id,omitempty"`
	EndsAt          *time.Time       `json:"ends_at,omitempty"`
	Extended        bool             `json:"extended,omitempty"`
}

type DecisionBody struct {
	Action        string           `json:"action"`
	CounterAmount *decimal.Decimal `json:"counter_amount"`
}

type NegotiationResponse struct {
	AuctionID        string           `json:"auction_id"`
	Decision         string           `json:"decision"`
	CounterAmount    *decimal.Decimal `json:"counter_amount,omitempty"`
	CounterExpiresAt *time.Time       `json:"counter_expires_at,omitempty"`
	Expired          bool             `json:"expired"`
}

type TransitionResponse struct {
	AuctionID string    `json:"auction_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	At        time.Time `json:"at"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

func NewAuctionHandler(auctionManager *services.AuctionManager, bidService *services.BidService,
	negotiation *services.NegotiationService, clk clock.Clock, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctionManager: auctionManager,
		bidService:     bidService,
		negotiation:    negotiation,
		clock:          clk,
		log:            log,
	}
}

// Register mounts the REST routes on g, normally the /api/v1 group.
func (h *AuctionHandler) Register(g *echo.Group) {
	g.POST("/auctions", h.CreateAuction)
	g.GET("/auctions/:id", h.GetAuction)
	g.GET("/auctions/:id/bids", h.ListBids)
	g.POST("/auctions/:id/bids", h.PlaceBid)
	g.POST("/auctions/:id/decision", h.Decide)
	g.GET("/auctions/:id/negotiation", h.GetNegotiation)
	g.POST("/auctions/:id/cancel", h.CancelAuction)
	g.POST("/lifecycle/tick", h.Tick)
	g.GET("/counter-offers/expired", h.ExpiredCounterOffers)
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	h.log.Info("CreateAuction endpoint called",
		"method", c.Request().Method,
		"remote_addr", c.RealIP(),
		"user_agent", c.Request().UserAgent(),
		"content_type", c.Request().Header.Get("Content-Type"))

	sellerID := c.Request().Header.Get(HeaderUserID)
	if sellerID == "" {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Missing " + HeaderUserID + " header", Kind: string(domain.KindUnauthorized)})
	}

	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Kind: string(domain.KindInvalidInput)})
	}

	auction, err := h.auctionManager.CreateAuction(c.Request().Context(), services.CreateAuctionInput{
		SellerID:      sellerID,
		ItemName:      req.ItemName,
		StartingPrice: req.StartingPrice,
		BidIncrement:  req.BidIncrement,
		ReservePrice:  req.ReservePrice,
		GoLiveAt:      req.GoLiveAt,
		Duration:      time.Duration(req.DurationSeconds) * time.Second,
		AutoExtend:    time.Duration(req.AutoExtendSeconds) * time.Second,
	})
	if err != nil {
		return h.fail(c, "Failed to create auction", err)
	}

	h.log.Info("Auction created successfully", "auction_id", auction.ID)
	return c.JSON(http.StatusCreated, toAuctionResponse(auction))
}

func (h *AuctionHandler) GetAuction(c echo.Context) error {
	auctionID := c.Param("id")
	h.log.Debug("GetAuction endpoint called", "auction_id", auctionID)

	auction, err := h.auctionManager.GetAuction(c.Request().Context(), auctionID)
	if err != nil {
		return h.fail(c, "Failed to load auction", err)
	}
	return c.JSON(http.StatusOK, toAuctionResponse(auction))
}

func (h *AuctionHandler) ListBids(c echo.Context) error {
	auctionID := c.Param("id")

	bids, err := h.bidService.Bids(c.Request().Context(), auctionID)
	if err != nil {
		return h.fail(c, "Failed to list bids", err)
	}

	out := make([]BidResponse, 0, len(bids))
	for _, bid := range bids {
		out = append(out, toBidResponse(bid))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AuctionHandler) PlaceBid(c echo.Context) error {
	auctionID := c.Param("id")
	bidderID := c.Request().Header.Get(HeaderUserID)
	h.log.Info("PlaceBid endpoint called", "auction_id", auctionID, "bidder_id", bidderID, "remote_addr", c.RealIP())

	var body PlaceBidBody
	if err := c.Bind(&body); err != nil {
		h.log.Error("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Kind: string(domain.KindInvalidInput)})
	}

	accepted, err := h.bidService.PlaceBid(c.Request().Context(), services.PlaceBidRequest{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    body.Amount,
		MaxAmount: body.MaxAmount,
		Source:    domain.SourceAPI,
	})
	if err != nil {
		return h.fail(c, "Bid rejected", err)
	}

	resp := toBidResponse(accepted.Bid)
	resp.CurrentHighest = &accepted.CurrentHighest
	resp.HighestBidderID = accepted.HighestBidderID
	resp.EndsAt = &accepted.EndsAt
	resp.Extended = accepted.Extended
	resp.Winning = accepted.Winning
	return c.JSON(http.StatusCreated, resp)
}

func (h *AuctionHandler) Decide(c echo.Context) error {
	auctionID := c.Param("id")
	sellerID := c.Request().Header.Get(HeaderUserID)
	h.log.Info("Decide endpoint called", "auction_id", auctionID, "seller_id", sellerID)

	var body DecisionBody
	if err := c.Bind(&body); err != nil {
		h.log.Error("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Kind: string(domain.KindInvalidInput)})
	}

	err := h.negotiation.Decide(c.Request().Context(), services.DecideRequest{
		AuctionID:     auctionID,
		SellerID:      sellerID,
		Action:        domain.SellerAction(body.Action),
		CounterAmount: body.CounterAmount,
	})
	if err != nil {
		return h.fail(c, "Decision rejected", err)
	}
	return h.negotiationState(c, auctionID)
}

func (h *AuctionHandler) GetNegotiation(c echo.Context) error {
	return h.negotiationState(c, c.Param("id"))
}

func (h *AuctionHandler) negotiationState(c echo.Context, auctionID string) error {
	state, err := h.negotiation.State(c.Request().Context(), auctionID, h.clock.Now())
	if err != nil {
		return h.fail(c, "Failed to load negotiation", err)
	}

	resp := NegotiationResponse{
		AuctionID: state.AuctionID,
		Decision:  string(state.Decision),
		Expired:   state.Expired,
	}
	if state.CounterOffer != nil {
		amount, expires := state.CounterOffer.Amount, state.CounterOffer.ExpiresAt
		resp.CounterAmount = &amount
		resp.CounterExpiresAt = &expires
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AuctionHandler) CancelAuction(c echo.Context) error {
	auctionID := c.Param("id")
	sellerID := c.Request().Header.Get(HeaderUserID)
	h.log.Info("CancelAuction endpoint called", "auction_id", auctionID, "seller_id", sellerID)

	if err := h.auctionManager.Cancel(c.Request().Context(), auctionID, sellerID); err != nil {
		return h.fail(c, "Failed to cancel auction", err)
	}
	return h.GetAuction(c)
}

// Tick runs one lifecycle sweep at the current time regardless of leadership.
func (h *AuctionHandler) Tick(c echo.Context) error {
	transitions, err := h.auctionManager.Advance(c.Request().Context(), h.clock.Now())

	out := make([]TransitionResponse, 0, len(transitions))
	for _, t := range transitions {
		out = append(out, TransitionResponse{AuctionID: t.AuctionID, From: t.From.String(), To: t.To.String(), At: t.At})
	}
	if err != nil {
		h.log.Error("Lifecycle tick incomplete", "transitions", len(out), "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error":       err.Error(),
			"transitions": out,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"transitions": out})
}

func (h *AuctionHandler) ExpiredCounterOffers(c echo.Context) error {
	auctions, err := h.negotiation.ExpiredCounterOffers(c.Request().Context(), h.clock.Now())
	if err != nil {
		return h.fail(c, "Failed to list expired counter offers", err)
	}

	out := make([]AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, toAuctionResponse(a))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *AuctionHandler) fail(c echo.Context, msg string, err error) error {
	kind := domain.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		h.log.Error(msg, "path", c.Path(), "kind", kind, "error", err)
	} else {
		h.log.Info(msg, "path", c.Path(), "kind", kind, "error", err)
	}
	return c.JSON(status, ErrorResponse{
		Error:     err.Error(),
		Kind:      string(kind),
		Retryable: domain.IsRetryable(err),
	})
}

// StatusFor maps an engine error kind to the HTTP status reported to callers.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindAuctionNotLive, domain.KindAlreadyDecided:
		return http.StatusConflict
	case domain.KindBidTooLow, domain.KindBelowIncrement, domain.KindInvalidProxyCeiling,
		domain.KindNoBids, domain.KindInvalidInput:
		return http.StatusUnprocessableEntity
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindContention:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func toAuctionResponse(a *domain.Auction) AuctionResponse {
	return AuctionResponse{
		AuctionID:         a.ID,
		SellerID:          a.SellerID,
		ItemName:          a.ItemName,
		Status:            a.Status.String(),
		StartingPrice:     a.StartingPrice,
		BidIncrement:      a.BidIncrement,
		ReservePrice:      a.ReservePrice,
		ReserveMet:        a.ReserveMet(),
		GoLiveAt:          a.GoLiveAt,
		EndsAt:            a.EndsAt(),
		CurrentHighestBid: a.CurrentHighestBid,
		HighestBidderID:   a.HighestBidderID,
		MinimumNextBid:    a.MinimumNextBid(),
		BidCount:          a.BidCount,
		Decision:          string(a.Negotiation.Kind()),
	}
}

func toBidResponse(b *domain.Bid) BidResponse {
	return BidResponse{
		BidID:     b.ID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		MaxAmount: b.MaxAmount,
		Type:      string(b.Type),
		Source:    string(b.Source),
		Sequence:  b.Sequence,
		Winning:   b.Winning,
		PlacedAt:  b.PlacedAt,
	}
}
