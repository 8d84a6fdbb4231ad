// Package notify forwards user notifications (fills, order updates, order
// failures, liquidations) to chat webhooks. Each notification type can be
// switched on or off in config.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/domsync/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// titles maps notification types to the headline shown to the user.
var titles = map[domain.NotificationKind]string{
	domain.NotifyFills:       "Order Filled",
	domain.NotifyOrders:      "Order Placed",
	domain.NotifyOrderFail:   "Unsuccessful Order",
	domain.NotifyLiquidation: "Liquidation",
}

// Title returns the headline for a notification type.
func Title(kind domain.NotificationKind) string {
	if t, ok := titles[kind]; ok {
		return t
	}
	return string(kind)
}

// Notifier dispatches notifications to every sender, dropping types that
// are not enabled.
type Notifier struct {
	senders []Sender
	events  map[domain.NotificationKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. With no events configured every type is
// delivered.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.NotificationKind]bool, len(events))
	for _, e := range events {
		allowed[domain.NotificationKind(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether the notifier has anywhere to deliver.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// Publish implements domain.EventPublisher. Only notification events are
// forwarded.
func (n *Notifier) Publish(ctx context.Context, ev domain.Event) error {
	note, ok := ev.(domain.Notification)
	if !ok {
		return nil
	}
	return n.Notify(ctx, note)
}

// Notify delivers one notification if its type is enabled.
func (n *Notifier) Notify(ctx context.Context, note domain.Notification) error {
	if len(n.events) > 0 && !n.events[note.Type] {
		n.logger.DebugContext(ctx, "notification filtered out",
			slog.String("type", string(note.Type)),
		)
		return nil
	}
	return n.dispatch(ctx, Title(note.Type), formatBody(note))
}

func formatBody(note domain.Notification) string {
	if note.Market == "" || strings.Contains(note.Message, note.Market) {
		return note.Message
	}
	return note.Market + ": " + note.Message
}

// dispatch sends to every sender. A failing sender does not stop delivery
// to the rest; failures are returned combined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
