// Package notify stores per-wallet notifications, fans them out to typed
// subscribers, and forwards the important ones to chat channels such as
// Telegram and Discord.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier forwards hub notifications to one or more Senders. Only types in
// the allowed set at or above the minimum priority are forwarded.
type Notifier struct {
	senders     []Sender
	types       map[domain.NotificationType]bool
	minPriority domain.Priority
	logger      *slog.Logger
}

// NewNotifier creates a Notifier for senders. An empty types list allows
// every notification type.
func NewNotifier(senders []Sender, types []string, minPriority domain.Priority, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.NotificationType]bool, len(types))
	for _, t := range types {
		allowed[domain.NotificationType(strings.TrimSpace(t))] = true
	}
	if minPriority == "" {
		minPriority = domain.PriorityHigh
	}
	return &Notifier{
		senders:     senders,
		types:       allowed,
		minPriority: minPriority,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Handle is a hub Handler.
func (n *Notifier) Handle(ctx context.Context, note domain.Notification) error {
	if len(n.types) > 0 && !n.types[note.Type] {
		return nil
	}
	if note.Priority.Rank() < n.minPriority.Rank() {
		return nil
	}
	title := fmt.Sprintf("[%s] %s", strings.ToUpper(string(note.Priority)), note.Type)
	body := fmt.Sprintf("%s\nwallet: %s", note.Message, note.Wallet)
	return n.dispatch(ctx, title, body)
}

// dispatch sends to every sender. One sender failing does not stop delivery
// to the rest; failures come back as one combined error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "notifier: sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notifier: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
