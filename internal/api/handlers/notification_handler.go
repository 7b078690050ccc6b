package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"auction-engine/internal/domain"
	"auction-engine/pkg/logger"

	"github.com/gorilla/mux"
)

type NotificationResponse struct {
	ID        string                 `json:"id"`
	AuctionID string                 `json:"auction_id"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Priority  domain.Priority        `json:"priority"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NotificationHandlers serves a user's notification inbox.
type NotificationHandlers struct {
	repo domain.NotificationRepository
	log  logger.Logger
}

func NewNotificationHandlers(repo domain.NotificationRepository, log logger.Logger) *NotificationHandlers {
	return &NotificationHandlers{repo: repo, log: log}
}

func (h *NotificationHandlers) Register(router *mux.Router) {
	router.HandleFunc("/notifications/{userID}", h.ListForUser).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
}

func (h *NotificationHandlers) ListForUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "limit must be a non-negative integer", Kind: string(domain.KindInvalidInput)})
			return
		}
		limit = n
	}

	notifications, err := h.repo.ListForUser(r.Context(), userID, limit)
	if err != nil {
		h.log.Error("Failed to list notifications", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to list notifications"})
		return
	}

	out := make([]NotificationResponse, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, NotificationResponse{
			ID:        n.ID,
			AuctionID: n.AuctionID,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Priority:  n.Priority,
			Data:      n.Data,
			CreatedAt: n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
