package redis

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidcore/engine"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// setupTest 建立以指令為單位驗證的 mock client
func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

// setupMiniredis 建立真實的 in-memory Redis，用於需要 stream 語意的測試
func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client, func() {
		client.Close()
		mr.Close()
	}
}

type TestMessage struct {
	ID   string `msgpack:"id"`
	Data string `msgpack:"data"`
}

func sampleEvent(kind engine.EventKind) engine.Event {
	seller, bidder := uuid.New(), uuid.New()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	item := engine.AuctionItem{
		ID:                    uuid.New(),
		SellerID:              seller,
		Title:                 "Vintage camera",
		Type:                  engine.Forward,
		StartingPrice:         decimal.RequireFromString("50.00"),
		EndTime:               now.Add(time.Hour),
		CreatedAt:             now,
		StandardShippingCost:  decimal.RequireFromString("10.00"),
		ExpeditedShippingCost: decimal.RequireFromString("15.00"),
		CurrentPrice:          decimal.RequireFromString("62.50"),
		CurrentBidderID:       &bidder,
		IsActive:              true,
	}
	return engine.Event{
		ID:     uuid.New(),
		Kind:   kind,
		ItemID: item.ID,
		Item:   item,
		Bid: &engine.Bid{
			ID:        uuid.New(),
			ItemID:    item.ID,
			BidderID:  bidder,
			Amount:    decimal.RequireFromString("62.50"),
			Timestamp: now,
		},
		OccurredAt: now,
	}
}

func assertSameEvent(t *testing.T, want, got engine.Event) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.ItemID, got.ItemID)
	assert.True(t, want.OccurredAt.Equal(got.OccurredAt))
	assert.Equal(t, want.Item.Title, got.Item.Title)
	assert.True(t, want.Item.CurrentPrice.Equal(got.Item.CurrentPrice))
	assert.True(t, want.Item.EndTime.Equal(got.Item.EndTime))
	assert.Equal(t, want.Item.CurrentBidderID, got.Item.CurrentBidderID)
	if want.Bid != nil {
		require.NotNil(t, got.Bid)
		assert.True(t, want.Bid.Amount.Equal(got.Bid.Amount))
		assert.Equal(t, want.Bid.BidderID, got.Bid.BidderID)
	}
}
