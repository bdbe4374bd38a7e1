package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func init() {
	// 將日誌輸出重定向到io.Discard
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// recordingSink 記錄所有收到的事件
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) kinds(itemID uuid.UUID) []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]EventKind, 0)
	for _, event := range s.events {
		if event.ItemID == itemID {
			kinds = append(kinds, event.Kind)
		}
	}
	return kinds
}

func setupEngine(t *testing.T, opts ...Option) (*Engine, *ManualClock, *recordingSink) {
	t.Helper()
	clock := NewManualClock(t0)
	sink := &recordingSink{}
	opts = append([]Option{WithClock(clock), WithEventSink(sink)}, opts...)
	return NewEngine(opts...), clock, sink
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func forwardItem(seller uuid.UUID, starting string, duration time.Duration) AuctionItem {
	return AuctionItem{
		SellerID:              seller,
		Title:                 "Vintage camera",
		Type:                  Forward,
		StartingPrice:         money(starting),
		EndTime:               t0.Add(duration),
		StandardShippingCost:  money("10.00"),
		ExpeditedShippingCost: money("15.00"),
	}
}

func dutchItem(seller uuid.UUID, starting, percentage string, interval, duration time.Duration) AuctionItem {
	return AuctionItem{
		SellerID:                seller,
		Title:                   "Tulip bulbs",
		Type:                    Dutch,
		StartingPrice:           money(starting),
		EndTime:                 t0.Add(duration),
		DutchDecreasePercentage: money(percentage),
		DutchDecreaseInterval:   interval,
		StandardShippingCost:    money("5.00"),
		ExpeditedShippingCost:   money("7.50"),
	}
}

func register(t *testing.T, e *Engine, item AuctionItem) Snapshot {
	t.Helper()
	snapshot, err := e.Register(context.Background(), item)
	require.NoError(t, err)
	return snapshot
}
