package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mathidot/polymarket-bot/internal/domain"
)

const (
	wsWriteWait        = 10 * time.Second
	wsPongWait         = 60 * time.Second
	wsPingPeriod       = (wsPongWait * 9) / 10
	wsHandshakeTimeout = 15 * time.Second
	wsReconnectDelay   = 2 * time.Second
)

// WSFeed subscribes to the Polymarket CLOB market channel for the watched
// assets and pushes every book snapshot into the aggregator, keeping its
// cache warm between poll cycles. It reconnects with a fixed delay on
// disconnect.
type WSFeed struct {
	wsURL    string
	assetIDs []string
	agg      *Aggregator
	logger   *slog.Logger
}

// NewWSFeed creates a feed that will subscribe to the given asset IDs.
// wsURL is the CLOB WebSocket host, e.g.
// "wss://ws-subscriptions-clob.polymarket.com".
func NewWSFeed(wsURL string, assetIDs []string, agg *Aggregator, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:    wsURL + "/ws/market",
		assetIDs: assetIDs,
		agg:      agg,
		logger:   logger.With(slog.String("component", "ws_feed")),
	}
}

// Run connects, subscribes, and dispatches messages until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	if len(f.assetIDs) == 0 {
		f.logger.Info("no asset IDs to subscribe, ws feed idle")
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		if err := f.runConnection(ctx); ctx.Err() != nil {
			return ctx.Err()
		} else if err != nil {
			f.logger.Warn("ws disconnected, reconnecting", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wsReconnectDelay):
		}
	}
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed/ws: connect: %w", err)
	}
	defer conn.Close()

	sub := map[string]any{
		"type":       "market",
		"assets_ids": f.assetIDs,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("feed/ws: subscribe: %w", err)
	}
	f.logger.Info("ws subscribed", slog.Int("assets", len(f.assetIDs)))

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed/ws: read: %w", err)
		}
		f.dispatch(raw)
	}
}

// wsBookMessage is the CLOB market-channel "book" event payload.
type wsBookMessage struct {
	EventType string        `json:"event_type"`
	AssetID   string        `json:"asset_id"`
	Timestamp string        `json:"timestamp"` // unix millis as string
	Bids      []wsBookLevel `json:"bids"`
	Asks      []wsBookLevel `json:"asks"`
}

type wsBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// dispatch parses a raw frame. The market channel delivers either a single
// event object or an array of them; anything that is not a book event is
// ignored.
func (f *WSFeed) dispatch(raw []byte) {
	var batch []wsBookMessage
	if err := json.Unmarshal(raw, &batch); err != nil {
		var single wsBookMessage
		if err := json.Unmarshal(raw, &single); err != nil {
			return
		}
		batch = []wsBookMessage{single}
	}
	for _, msg := range batch {
		if msg.EventType != "book" || msg.AssetID == "" {
			continue
		}
		f.agg.HandleBookPush(msg.toSnapshot())
	}
}

func (m wsBookMessage) toSnapshot() domain.OrderBookSnapshot {
	snap := domain.OrderBookSnapshot{
		AssetID:   m.AssetID,
		Bids:      parseLevels(m.Bids),
		Asks:      parseLevels(m.Asks),
		Timestamp: time.Now().UTC(),
	}
	if ms, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && ms > 0 {
		snap.Timestamp = time.UnixMilli(ms).UTC()
	}
	// The venue sends bids ascending and asks descending; normalize both to
	// best-first.
	sort.Slice(snap.Bids, func(i, j int) bool { return snap.Bids[i].Price > snap.Bids[j].Price })
	sort.Slice(snap.Asks, func(i, j int) bool { return snap.Asks[i].Price < snap.Asks[j].Price })
	return snap
}

func parseLevels(in []wsBookLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lvl := range in {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseFloat(lvl.Size, 64)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out
}
