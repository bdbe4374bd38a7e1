package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	e, _, sink := setupEngine(t)
	seller := uuid.New()

	snapshot := register(t, e, forwardItem(seller, "50.00", time.Hour))
	item := snapshot.Item
	assert.NotEqual(t, uuid.Nil, item.ID)
	assert.Equal(t, t0, item.CreatedAt)
	assert.True(t, item.IsActive)
	assert.Nil(t, item.CurrentBidderID)
	assert.Equal(t, "50.00", snapshot.Price.StringFixed(2))
	require.NotNil(t, snapshot.Minimum)
	assert.Equal(t, "50.01", snapshot.Minimum.StringFixed(2))
	assert.Equal(t, time.Hour, snapshot.Remaining())
	assert.Equal(t, []EventKind{EventItemRegistered}, sink.kinds(item.ID))

	dutch := register(t, e, dutchItem(seller, "100.00", "10", time.Minute, time.Hour))
	assert.Nil(t, dutch.Minimum)
}

func TestRegister_InvalidTerms(t *testing.T) {
	seller := uuid.New()
	tests := []struct {
		name   string
		modify func(item *AuctionItem)
	}{
		{"沒有賣家", func(item *AuctionItem) { item.SellerID = uuid.Nil }},
		{"起標價為零", func(item *AuctionItem) { item.StartingPrice = money("0") }},
		{"結束時間已過", func(item *AuctionItem) { item.EndTime = t0.Add(-time.Minute) }},
		{"結束時間等於現在", func(item *AuctionItem) { item.EndTime = t0 }},
		{"負的運費", func(item *AuctionItem) { item.StandardShippingCost = money("-1") }},
		{"起標價超過兩位小數", func(item *AuctionItem) { item.StartingPrice = money("10.005") }},
		{"標準運費超過兩位小數", func(item *AuctionItem) { item.StandardShippingCost = money("4.999") }},
		{"快遞運費超過兩位小數", func(item *AuctionItem) { item.ExpeditedShippingCost = money("0.001") }},
		{"沒有標題", func(item *AuctionItem) { item.Title = "  " }},
		{"未知的拍賣類型", func(item *AuctionItem) { item.Type = "ENGLISH" }},
		{"FORWARD 帶有下降條款", func(item *AuctionItem) { item.DutchDecreaseInterval = time.Minute }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := setupEngine(t)
			item := forwardItem(seller, "50.00", time.Hour)
			tt.modify(&item)
			_, err := e.Register(context.Background(), item)
			assert.ErrorIs(t, err, ErrInvalidTerms)
			assert.Equal(t, ClassValidation, ClassOf(err))
		})
	}

	t.Run("DUTCH 下降百分比超過 100", func(t *testing.T) {
		e, _, _ := setupEngine(t)
		_, err := e.Register(context.Background(), dutchItem(seller, "100.00", "101", time.Minute, time.Hour))
		assert.ErrorIs(t, err, ErrInvalidTerms)
	})

	t.Run("DUTCH 下降百分比超過三位小數", func(t *testing.T) {
		e, _, _ := setupEngine(t)
		_, err := e.Register(context.Background(), dutchItem(seller, "100.00", "33.33333", time.Minute, time.Hour))
		assert.ErrorIs(t, err, ErrInvalidTerms)

		snapshot, err := e.Register(context.Background(), dutchItem(seller, "100.00", "33.333", time.Minute, time.Hour))
		require.NoError(t, err)
		assert.Equal(t, "33.333", snapshot.Item.DutchDecreasePercentage.String())
	})

	t.Run("DUTCH 下降間隔太短", func(t *testing.T) {
		e, _, _ := setupEngine(t)
		_, err := e.Register(context.Background(), dutchItem(seller, "100.00", "10", time.Millisecond, time.Hour))
		assert.ErrorIs(t, err, ErrInvalidTerms)
	})
}

func TestRegister_Duplicate(t *testing.T) {
	e, _, _ := setupEngine(t)
	item := register(t, e, forwardItem(uuid.New(), "50.00", time.Hour)).Item

	duplicate := forwardItem(uuid.New(), "10.00", time.Hour)
	duplicate.ID = item.ID
	_, err := e.Register(context.Background(), duplicate)
	assert.ErrorIs(t, err, ErrDuplicateItem)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	seller := uuid.New()

	t.Run("seller removes item without bids", func(t *testing.T) {
		e, _, sink := setupEngine(t)
		item := register(t, e, forwardItem(seller, "50.00", time.Hour)).Item

		require.NoError(t, e.Remove(ctx, item.ID, seller))
		_, err := e.Get(ctx, item.ID)
		assert.ErrorIs(t, err, ErrItemNotFound)
		assert.Zero(t, e.locks.Len())
		assert.Equal(t, []EventKind{EventItemRegistered, EventItemRemoved}, sink.kinds(item.ID))

		assert.ErrorIs(t, e.Remove(ctx, item.ID, seller), ErrItemNotFound)
	})

	t.Run("only seller may remove", func(t *testing.T) {
		e, _, _ := setupEngine(t)
		item := register(t, e, forwardItem(seller, "50.00", time.Hour)).Item
		assert.ErrorIs(t, e.Remove(ctx, item.ID, uuid.New()), ErrForbidden)
	})

	t.Run("item with a bidder cannot be removed", func(t *testing.T) {
		e, _, _ := setupEngine(t)
		item := register(t, e, forwardItem(seller, "50.00", time.Hour)).Item
		_, err := e.Submit(ctx, BidRequest{ItemID: item.ID, ActorID: uuid.New(), Amount: money("51.00")})
		require.NoError(t, err)

		err = e.Remove(ctx, item.ID, seller)
		assert.ErrorIs(t, err, ErrHasBids)
		assert.Equal(t, ClassState, ClassOf(err))
	})
}

func TestList(t *testing.T) {
	e, clock, _ := setupEngine(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()

	late := register(t, e, forwardItem(alice, "10.00", 3*time.Hour)).Item
	early := register(t, e, forwardItem(bob, "10.00", time.Hour)).Item
	middle := register(t, e, dutchItem(alice, "100.00", "10", time.Minute, 2*time.Hour)).Item

	all, err := e.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uuid.UUID{early.ID, middle.ID, late.ID}, []uuid.UUID{all[0].Item.ID, all[1].Item.ID, all[2].Item.ID})

	bySeller, err := e.List(ctx, ListFilter{SellerID: &alice})
	require.NoError(t, err)
	require.Len(t, bySeller, 2)
	assert.Equal(t, middle.ID, bySeller[0].Item.ID)

	clock.Advance(90 * time.Minute)
	active, err := e.List(ctx, ListFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, middle.ID, active[0].Item.ID)
	assert.Equal(t, late.ID, active[1].Item.ID)
}

func TestList_SkipsBusyItem(t *testing.T) {
	e, _, _ := setupEngine(t, WithLockWait(5*time.Millisecond), WithBusyRetries(1))
	ctx := context.Background()
	seller := uuid.New()
	held := register(t, e, forwardItem(seller, "10.00", time.Hour)).Item
	free := register(t, e, forwardItem(seller, "10.00", 2*time.Hour)).Item

	release, err := e.locks.Acquire(ctx, held.ID)
	require.NoError(t, err)
	defer release()

	snapshots, err := e.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, free.ID, snapshots[0].Item.ID)
}

func TestRestore(t *testing.T) {
	e, _, sink := setupEngine(t)
	ctx := context.Background()
	seller, bidder := uuid.New(), uuid.New()

	item := forwardItem(seller, "50.00", time.Hour)
	item.ID = uuid.New()
	item.CreatedAt = t0.Add(-time.Hour)
	item.CurrentPrice = money("70.00")
	item.CurrentBidderID = &bidder
	item.IsActive = true
	bids := []Bid{
		{ID: uuid.New(), ItemID: item.ID, BidderID: uuid.New(), Amount: money("60.00"), Timestamp: t0.Add(-30 * time.Minute)},
		{ID: uuid.New(), ItemID: item.ID, BidderID: bidder, Amount: money("70.00"), Timestamp: t0.Add(-10 * time.Minute)},
	}
	require.NoError(t, e.Restore(item, bids, nil))
	assert.ErrorIs(t, e.Restore(item, nil, nil), ErrDuplicateItem)

	snapshot, err := e.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "70.00", snapshot.Price.StringFixed(2))
	assert.Len(t, snapshot.Bids, 2)
	assert.Empty(t, sink.kinds(item.ID))

	_, err = e.Submit(ctx, BidRequest{ItemID: item.ID, ActorID: uuid.New(), Amount: money("70.00")})
	var tooLow *BidTooLowError
	require.True(t, errors.As(err, &tooLow))
	assert.Equal(t, "70.01", tooLow.Minimum.StringFixed(2))

	t.Run("seller as bidder is rejected", func(t *testing.T) {
		invalid := forwardItem(seller, "50.00", time.Hour)
		invalid.ID = uuid.New()
		invalid.CurrentBidderID = &seller
		assert.ErrorIs(t, e.Restore(invalid, nil, nil), ErrInvalidTerms)
	})

	t.Run("closed item is not swept again", func(t *testing.T) {
		closed := forwardItem(seller, "50.00", time.Minute)
		closed.ID = uuid.New()
		closed.EndTime = t0.Add(-time.Minute)
		closed.IsActive = false
		require.NoError(t, e.Restore(closed, nil, nil))

		count, err := e.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestCanonicalBid(t *testing.T) {
	_, ok := CanonicalBid(nil)
	assert.False(t, ok)

	first := Bid{ID: uuid.New(), Amount: money("80.00"), Timestamp: t0.Add(time.Second)}
	tie := Bid{ID: uuid.New(), Amount: money("80.00"), Timestamp: t0.Add(2 * time.Second)}
	lower := Bid{ID: uuid.New(), Amount: money("70.00"), Timestamp: t0}

	best, ok := CanonicalBid([]Bid{lower, tie, first})
	require.True(t, ok)
	assert.Equal(t, first.ID, best.ID)
}

func TestMultiSink(t *testing.T) {
	var received []EventKind
	collect := EventSinkFunc(func(event Event) error {
		received = append(received, event.Kind)
		return nil
	})
	failing := EventSinkFunc(func(Event) error {
		return errors.New("broker down")
	})

	sink := MultiSink(collect, nil, failing, collect)
	err := sink.Publish(Event{Kind: EventBidPlaced})
	assert.EqualError(t, err, "broker down")
	assert.Equal(t, []EventKind{EventBidPlaced, EventBidPlaced}, received)
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, ClassUnknown, ClassOf(nil))
	assert.Equal(t, ClassUnknown, ClassOf(errors.New("boom")))
	assert.Equal(t, ClassValidation, ClassOf(&BidTooLowError{}))
	assert.Equal(t, ClassContention, ClassOf(ErrBusy))
	assert.Equal(t, ClassNotFound, ClassOf(ErrReceiptNotFound))
	assert.Equal(t, ClassState, ClassOf(ErrAuctionEnded))
}

func TestVersion(t *testing.T) {
	e, clock, sink := setupEngine(t)
	ctx := context.Background()
	item := register(t, e, forwardItem(uuid.New(), "20.00", time.Minute)).Item
	assert.Equal(t, uint64(1), item.Version)

	_, err := e.Submit(ctx, BidRequest{ItemID: item.ID, ActorID: uuid.New(), Amount: money("25.00")})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = e.Sweep(ctx)
	require.NoError(t, err)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	versions := make([]uint64, 0)
	for _, event := range sink.events {
		versions = append(versions, event.Item.Version)
	}
	assert.Equal(t, []uint64{1, 2, 3}, versions)
}
