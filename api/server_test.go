package api

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bidcore/engine"
	"bidcore/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bidcore.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func persistentConfig(id, redisAddr string) ServerConfig {
	return ServerConfig{
		ID: id,
		Redis: RedisConfig{
			Addr:          redisAddr,
			StreamKeys:    RedisStreamKeys{Events: "bidcore:events"},
			ConsumerGroup: "bidcore-persistence",
		},
		Engine: EngineConfig{SweepInterval: time.Hour},
	}
}

func TestServer_Persistence(t *testing.T) {
	mr := miniredis.RunT(t)
	db := openDatabase(t)
	clock := engine.NewManualClock(t0)
	ctx := context.Background()
	seller, bidder := uuid.New(), uuid.New()

	server, err := NewServer(persistentConfig("first", mr.Addr()), WithDatabase(db), WithServerClock(clock))
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(server.Close)

	snapshot, err := server.Engine().Register(ctx, engine.AuctionItem{
		SellerID:              seller,
		Title:                 "Vintage camera",
		Type:                  engine.Forward,
		StartingPrice:         decimal.RequireFromString("50.00"),
		EndTime:               t0.Add(time.Hour),
		StandardShippingCost:  decimal.RequireFromString("10.00"),
		ExpeditedShippingCost: decimal.RequireFromString("15.00"),
	})
	require.NoError(t, err)
	itemID := snapshot.Item.ID
	_, err = server.Engine().Submit(ctx, engine.BidRequest{ItemID: itemID, ActorID: bidder, Amount: decimal.RequireFromString("60.00")})
	require.NoError(t, err)

	// 事件經過 Redis stream 由 worker 寫入資料庫
	require.Eventually(t, func() bool {
		var row models.AuctionItem
		if err := db.First(&row, "id = ?", itemID).Error; err != nil {
			return false
		}
		return row.Version == 2
	}, 5*time.Second, 20*time.Millisecond)

	var bids []models.Bid
	require.NoError(t, db.Find(&bids, "auction_item_id = ?", itemID).Error)
	require.Len(t, bids, 1)
	assert.Equal(t, "60.00", bids[0].Amount.StringFixed(2))
	server.Close()

	// 重新啟動後從資料庫還原
	restarted, err := NewServer(persistentConfig("second", mr.Addr()), WithDatabase(db), WithServerClock(clock))
	require.NoError(t, err)
	require.NoError(t, restarted.Start())
	t.Cleanup(restarted.Close)

	restored, err := restarted.Engine().Get(ctx, itemID)
	require.NoError(t, err)
	assert.True(t, restored.Item.IsActive)
	assert.Equal(t, "60.00", restored.Price.StringFixed(2))
	require.NotNil(t, restored.Item.CurrentBidderID)
	assert.Equal(t, bidder, *restored.Item.CurrentBidderID)
	assert.Len(t, restored.Bids, 1)
	assert.Equal(t, uint64(2), restored.Item.Version)

	_, err = restarted.Engine().Submit(ctx, engine.BidRequest{ItemID: itemID, ActorID: uuid.New(), Amount: decimal.RequireFromString("60.00")})
	var tooLow *engine.BidTooLowError
	assert.ErrorAs(t, err, &tooLow)
}

func TestServer_RedisFanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	clock := engine.NewManualClock(t0)
	ctx := context.Background()

	server, err := NewServer(persistentConfig("fan-out", mr.Addr()), WithServerClock(clock))
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(server.Close)

	snapshot, err := server.Engine().Register(ctx, engine.AuctionItem{
		SellerID:              uuid.New(),
		Title:                 "Tulip bulbs",
		Type:                  engine.Forward,
		StartingPrice:         decimal.RequireFromString("10.00"),
		EndTime:               t0.Add(time.Hour),
		StandardShippingCost:  decimal.RequireFromString("5.00"),
		ExpeditedShippingCost: decimal.RequireFromString("7.50"),
	})
	require.NoError(t, err)
	itemID := snapshot.Item.ID

	ch, err := server.sseManager.Subscribe(itemID.String())
	require.NoError(t, err)
	defer server.sseManager.Unsubscribe(itemID.String(), ch)

	// consumer 從 stream 尾端開始讀，啟動前的事件收不到，所以持續出價直到收到為止
	amount := decimal.RequireFromString("10.00")
	require.Eventually(t, func() bool {
		amount = amount.Add(decimal.NewFromInt(1))
		if _, err := server.Engine().Submit(ctx, engine.BidRequest{ItemID: itemID, ActorID: uuid.New(), Amount: amount}); err != nil {
			return false
		}
		select {
		case event := <-ch:
			return event.Kind == engine.EventBidPlaced && event.ItemID == itemID
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewServer_PersistenceRequiresRedis(t *testing.T) {
	db := openDatabase(t)
	_, err := NewServer(ServerConfig{ID: "test"}, WithDatabase(db))
	assert.ErrorContains(t, err, "Persistence requires a redis event stream")
}
