package notify

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// ChannelPrefix prefixes the per-wallet signal bus channel.
const ChannelPrefix = "notifications:"

// WalletChannel returns the bus channel for wallet.
func WalletChannel(wallet string) string { return ChannelPrefix + wallet }

// BusPublisher returns a Handler that republishes notifications on the
// signal bus so other processes, like websocket gateways, can see them.
func BusPublisher(bus domain.SignalBus) Handler {
	return func(ctx context.Context, n domain.Notification) error {
		payload, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("notify: marshal notification: %w", err)
		}
		if err := bus.Publish(ctx, WalletChannel(n.Wallet), payload); err != nil {
			return fmt.Errorf("notify: publish: %w", err)
		}
		return nil
	}
}
