package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/internal/services"
	"auction-engine/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	bidTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type BidPlacer interface {
	PlaceBid(ctx context.Context, req services.PlaceBidRequest) (*services.AcceptedBid, error)
}

type AuctionReader interface {
	GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error)
}

type WebSocketHandler struct {
	bidService  BidPlacer
	auctions    AuctionReader
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewWebSocketHandler(bidService BidPlacer, auctions AuctionReader,
	connManager domain.ConnectionManager, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		bidService:  bidService,
		auctions:    auctions,
		connManager: connManager,
		log:         log,
	}
}

// clientMessage is what bidders send. Amounts may be JSON strings or numbers.
type clientMessage struct {
	Type      string           `json:"type"`
	Amount    decimal.Decimal  `json:"amount"`
	MaxAmount *decimal.Decimal `json:"max_amount,omitempty"`
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	auction, err := h.auctions.GetAuction(r.Context(), auctionID)
	if err != nil {
		h.log.Info("Rejected connection - unknown auction", "auction_id", auctionID, "error", err)
		http.Error(w, "auction not found", http.StatusNotFound)
		return
	}
	if auction.Status.IsTerminal() {
		h.log.Info("Rejected connection - auction closed", "auction_id", auctionID, "status", auction.Status.String())
		http.Error(w, "auction is "+auction.Status.String(), http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewWebSocketConnection(conn, userID, auctionID)
	if err := h.connManager.RegisterConnection(userID, auctionID, wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		_ = conn.Close()
		return
	}

	_ = wsConn.Send(map[string]interface{}{
		"type":        "auction_state",
		"auction_id":  auction.ID,
		"status":      auction.Status.String(),
		"current_bid": auction.CurrentPrice(),
		"minimum_bid": auction.MinimumNextBid(),
		"ends_at":     auction.EndsAt(),
	})

	go h.handleMessages(wsConn)
}

func (h *WebSocketHandler) handleMessages(conn *WebSocketConnection) {
	defer func() {
		_ = h.connManager.UnregisterConnection(conn)
		_ = conn.Close()
	}()

	conn.conn.SetReadLimit(4096)
	_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("Connection closed unexpectedly", "user_id", conn.UserID(), "error", err)
			}
			return
		}
		_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.Send(map[string]string{"type": "error", "message": "malformed message"})
			continue
		}

		switch msg.Type {
		case "place_bid":
			h.handleBidMessage(conn, msg)
		case "ping":
			_ = conn.Send(map[string]string{"type": "pong"})
		default:
			_ = conn.Send(map[string]string{"type": "error", "message": "unknown message type"})
		}
	}
}

func (h *WebSocketHandler) handleBidMessage(conn *WebSocketConnection, msg clientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), bidTimeout)
	defer cancel()

	accepted, err := h.bidService.PlaceBid(ctx, services.PlaceBidRequest{
		AuctionID: conn.AuctionID(),
		BidderID:  conn.UserID(),
		Amount:    msg.Amount,
		MaxAmount: msg.MaxAmount,
		Source:    domain.SourceWebSocket,
	})
	if err != nil {
		_ = conn.Send(map[string]interface{}{
			"type":      "bid_rejected",
			"reason":    domain.KindOf(err),
			"retryable": domain.IsRetryable(err),
			"amount":    msg.Amount,
		})
		return
	}

	_ = conn.Send(map[string]interface{}{
		"type":              "bid_accepted",
		"bid_id":            accepted.Bid.ID,
		"sequence":          accepted.Bid.Sequence,
		"amount":            accepted.Bid.Amount,
		"winning":           accepted.Winning,
		"current_bid":       accepted.CurrentHighest,
		"highest_bidder_id": accepted.HighestBidderID,
		"ends_at":           accepted.EndsAt,
	})
}

// WebSocketConnection serializes writes; gorilla connections allow only one
// concurrent writer.
type WebSocketConnection struct {
	conn      *websocket.Conn
	userID    string
	auctionID string
	writeMu   sync.Mutex
}

func NewWebSocketConnection(conn *websocket.Conn, userID, auctionID string) *WebSocketConnection {
	return &WebSocketConnection{
		conn:      conn,
		userID:    userID,
		auctionID: auctionID,
	}
}

func (wsc *WebSocketConnection) Send(message interface{}) error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()

	_ = wsc.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if raw, ok := message.(json.RawMessage); ok {
		return wsc.conn.WriteMessage(websocket.TextMessage, raw)
	}
	return wsc.conn.WriteJSON(message)
}

func (wsc *WebSocketConnection) Close() error {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()
	return wsc.conn.Close()
}

func (wsc *WebSocketConnection) UserID() string {
	return wsc.userID
}

func (wsc *WebSocketConnection) AuctionID() string {
	return wsc.auctionID
}
