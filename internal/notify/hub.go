package notify

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"
	"github.com/sourcegraph/conc/panics"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/metrics"
)

// Handler receives a stored notification. A returned error or panic is
// reported to the caller of Notify and never affects other handlers.
type Handler func(ctx context.Context, n domain.Notification) error

type subscription struct {
	id   string
	name string
	fn   Handler
}

// Hub stores notifications per wallet and fans them out to subscribers of
// their type.
type Hub struct {
	mu       sync.RWMutex
	byWallet map[string][]*domain.Notification // oldest first
	subs     map[domain.NotificationType][]subscription
	retain   int

	logger *slog.Logger
	now    func() time.Time
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithRetention caps the notifications kept per wallet; the oldest are
// dropped first. Zero keeps everything.
func WithRetention(n int) HubOption {
	return func(h *Hub) { h.retain = n }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		byWallet: make(map[string][]*domain.Notification),
		subs:     make(map[domain.NotificationType][]subscription),
		logger:   logger.With(slog.String("component", "notify_hub")),
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers fn for notifications of type t and returns the
// subscription id.
func (h *Hub) Subscribe(t domain.NotificationType, name string, fn Handler) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.subs[t] = append(h.subs[t], subscription{id: id, name: name, fn: fn})
	h.mu.Unlock()
	return id
}

// SubscribeAll registers fn for every notification type.
func (h *Hub) SubscribeAll(name string, fn Handler) []string {
	ids := make([]string, 0, len(domain.NotificationTypes))
	for _, t := range domain.NotificationTypes {
		ids = append(ids, h.Subscribe(t, name, fn))
	}
	return ids
}

// Unsubscribe removes a subscription. It reports whether id was found.
func (h *Hub) Unsubscribe(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for t, list := range h.subs {
		for i, s := range list {
			if s.id == id {
				h.subs[t] = append(list[:i:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Notify stores a notification for wallet and then invokes every handler
// subscribed to its type concurrently. Storage happens before any handler
// runs and is never rolled back.
func (h *Hub) Notify(ctx context.Context, wallet string, t domain.NotificationType, message string, priority domain.Priority, payload map[string]any) (domain.Notification, []domain.HandlerOutcome) {
	n := &domain.Notification{
		ID:        uuid.NewString(),
		Wallet:    wallet,
		Type:      t,
		Priority:  priority,
		Message:   message,
		Payload:   maps.Clone(payload),
		Timestamp: h.now().UTC(),
	}

	h.mu.Lock()
	list := append(h.byWallet[wallet], n)
	if h.retain > 0 && len(list) > h.retain {
		list = append(list[:0:0], list[len(list)-h.retain:]...)
	}
	h.byWallet[wallet] = list
	subs := append([]subscription(nil), h.subs[t]...)
	out := *n
	h.mu.Unlock()

	metrics.NotificationsTotal.WithLabelValues(string(t), string(priority)).Inc()

	outcomes := iter.Map(subs, func(s *subscription) domain.HandlerOutcome {
		return h.invoke(ctx, *s, out)
	})
	return out, outcomes
}

func (h *Hub) invoke(ctx context.Context, s subscription, n domain.Notification) domain.HandlerOutcome {
	res := domain.HandlerOutcome{SubscriptionID: s.id, Name: s.name}

	var pc panics.Catcher
	pc.Try(func() { res.Err = s.fn(ctx, n) })
	if r := pc.Recovered(); r != nil {
		res.Err = fmt.Errorf("notify: handler %s panicked: %w", s.name, r.AsError())
	}

	if res.Err != nil {
		metrics.HandlerFailures.WithLabelValues(s.name).Inc()
		h.logger.WarnContext(ctx, "notify_hub: handler failed",
			slog.String("handler", s.name),
			slog.String("wallet", n.Wallet),
			slog.String("type", string(n.Type)),
			slog.String("error", res.Err.Error()),
		)
	}
	return res
}

// Notifications returns the wallet's notifications newest first.
func (h *Hub) Notifications(wallet string, f domain.NotificationFilter) []domain.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()

	list := h.byWallet[wallet]
	out := make([]domain.Notification, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		n := list[i]
		if f.Type != "" && n.Type != f.Type {
			continue
		}
		if f.UnreadOnly && n.Read {
			continue
		}
		out = append(out, *n)
	}
	return out
}

// MarkRead marks one notification, or all of the wallet's notifications
// when id is empty, as read. It returns how many changed state.
func (h *Hub) MarkRead(wallet, id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	changed := 0
	for _, n := range h.byWallet[wallet] {
		if id != "" && n.ID != id {
			continue
		}
		if !n.Read {
			n.Read = true
			changed++
		}
	}
	return changed
}

// UnreadCount returns the number of unread notifications for wallet.
func (h *Hub) UnreadCount(wallet string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := 0
	for _, n := range h.byWallet[wallet] {
		if !n.Read {
			c++
		}
	}
	return c
}
