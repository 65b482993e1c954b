package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mathidot/polymarket-bot/internal/domain"
	"github.com/mathidot/polymarket-bot/internal/risk"
)

type fakeSender struct {
	name     string
	sendErr  error
	titles   []string
	messages []string
}

func (s *fakeSender) Send(_ context.Context, title, message string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.titles = append(s.titles, title)
	s.messages = append(s.messages, message)
	return nil
}

func (s *fakeSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersDisallowedEvents(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventPositionClosed}, discardLogger())

	if err := n.Notify(context.Background(), EventPositionOpened, "opened", "body"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.titles) != 0 {
		t.Errorf("filtered event was delivered: %v", sender.titles)
	}

	if err := n.Notify(context.Background(), EventPositionClosed, "closed", "body"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.titles) != 1 || sender.titles[0] != "closed" {
		t.Errorf("titles = %v, want [closed]", sender.titles)
	}
}

func TestNotifyEmptyAllowListPassesEverything(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	if err := n.Notify(context.Background(), "anything", "title", "body"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(sender.titles) != 1 {
		t.Errorf("delivered %d notifications, want 1", len(sender.titles))
	}
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	broken := &fakeSender{name: "broken", sendErr: errors.New("webhook down")}
	working := &fakeSender{name: "working"}
	n := NewNotifier([]Sender{broken, working}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "title", "body")
	if err == nil {
		t.Fatal("NotifyAll succeeded, want joined sender error")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error = %v, want sender name in it", err)
	}
	if len(working.titles) != 1 {
		t.Errorf("working sender got %d deliveries, want 1", len(working.titles))
	}
}

func TestPositionHookFormatsClosedPosition(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())
	hook := n.PositionHook()

	exit := 0.56
	hook(context.Background(), risk.Event{
		Type: risk.EventClosed,
		Position: domain.Position{
			Asset:      domain.Asset{MarketSlug: "will-it-rain", Outcome: "Yes"},
			EntryPrice: 0.50,
			Shares:     20,
			Status:     domain.PositionStatusClosed,
			ExitReason: domain.ExitReasonTakeProfit,
			ExitPrice:  &exit,
		},
	})

	if len(sender.messages) != 1 {
		t.Fatalf("delivered %d notifications, want 1", len(sender.messages))
	}
	msg := sender.messages[0]
	for _, want := range []string{"will-it-rain", "take_profit", "$+1.20"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestPositionHookRejectionCarriesError(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventError}, discardLogger())
	hook := n.PositionHook()

	hook(context.Background(), risk.Event{
		Type: risk.EventRejected,
		Position: domain.Position{
			Asset: domain.Asset{MarketSlug: "will-it-rain", Outcome: "No"},
		},
		Err: domain.ErrOrderRejected,
	})

	if len(sender.messages) != 1 {
		t.Fatalf("delivered %d notifications, want 1", len(sender.messages))
	}
	if !strings.Contains(sender.messages[0], "order rejected") {
		t.Errorf("message %q missing rejection reason", sender.messages[0])
	}
}
