package notify

import (
	"context"
	"fmt"

	"github.com/mathidot/polymarket-bot/internal/domain"
	"github.com/mathidot/polymarket-bot/internal/risk"
)

// Event type names used in the notify config's allow-list.
const (
	EventPositionOpened = "position_opened"
	EventPositionClosed = "position_closed"
	EventError          = "error"
)

// PositionHook returns a risk event hook that renders trade lifecycle events
// into operator notifications. Delivery failures are logged by the notifier
// and never propagate into the trading path.
func (n *Notifier) PositionHook() func(ctx context.Context, ev risk.Event) {
	return func(ctx context.Context, ev risk.Event) {
		switch ev.Type {
		case risk.EventOpened:
			_ = n.Notify(ctx, EventPositionOpened, "Position opened", formatOpened(ev.Position))
		case risk.EventClosed:
			_ = n.Notify(ctx, EventPositionClosed, "Position closed", formatClosed(ev.Position))
		case risk.EventRejected:
			_ = n.Notify(ctx, EventError, "Order rejected", formatRejected(ev))
		}
	}
}

func formatOpened(p domain.Position) string {
	return fmt.Sprintf("%s %s\nentry %.4f, %.2f shares, $%.2f",
		p.Asset.MarketSlug, p.Asset.Outcome, p.EntryPrice, p.Shares, p.CostUSD)
}

func formatClosed(p domain.Position) string {
	exit := p.EntryPrice
	if p.ExitPrice != nil {
		exit = *p.ExitPrice
	}
	pnl := (exit - p.EntryPrice) * p.Shares
	return fmt.Sprintf("%s %s (%s)\nentry %.4f, exit %.4f, PnL $%+.2f",
		p.Asset.MarketSlug, p.Asset.Outcome, p.ExitReason, p.EntryPrice, exit, pnl)
}

func formatRejected(ev risk.Event) string {
	msg := fmt.Sprintf("%s %s", ev.Position.Asset.MarketSlug, ev.Position.Asset.Outcome)
	if ev.Err != nil {
		msg += "\n" + ev.Err.Error()
	}
	return msg
}
