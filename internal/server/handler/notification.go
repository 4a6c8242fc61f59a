package handler

import (
	"fmt"
	"net/http"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// NotificationFeed is the read side of the notification hub.
type NotificationFeed interface {
	Notifications(wallet string, f domain.NotificationFilter) []domain.Notification
	MarkRead(wallet, id string) int
	UnreadCount(wallet string) int
}

// NotificationHandler serves a wallet's notification history.
type NotificationHandler struct {
	feed NotificationFeed
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(feed NotificationFeed) *NotificationHandler {
	return &NotificationHandler{feed: feed}
}

// List returns notifications newest first.
// GET /api/notifications/{wallet}?type=&unread=
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	q := r.URL.Query()
	f := domain.NotificationFilter{
		Type:       domain.NotificationType(q.Get("type")),
		UnreadOnly: parseBool(q.Get("unread")),
	}
	if f.Type != "" && !f.Type.Valid() {
		writeDomainError(w, fmt.Errorf("%w: unknown notification type %q", domain.ErrValidation, f.Type))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": h.feed.Notifications(wallet, f),
		"unread":        h.feed.UnreadCount(wallet),
	})
}

type markReadRequest struct {
	ID string `json:"id"`
}

// MarkRead marks one notification, or all when no id is given, as read.
// POST /api/notifications/{wallet}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeDomainError(w, err)
		return
	}
	wallet := r.PathValue("wallet")
	n := h.feed.MarkRead(wallet, req.ID)
	writeJSON(w, http.StatusOK, map[string]any{"marked": n, "unread": h.feed.UnreadCount(wallet)})
}
