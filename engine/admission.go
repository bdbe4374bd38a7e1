package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Submit 受理一筆出價
//
// FORWARD 拍賣必須嚴格高於目前價格；DUTCH 拍賣忽略金額，視為以當下價格購買並立即結束拍賣。
// 所有檢查和提交都在商品鎖內完成，被拒絕的請求不會留下任何部分狀態。
// 拒絕時仍會回傳商品目前的狀態，讓呼叫端可以用新的金額重試。
func (e *Engine) Submit(ctx context.Context, req BidRequest) (Snapshot, error) {
	var (
		snapshot Snapshot
		events   []Event
	)
	err := e.withItemLock(ctx, req.ItemID, func(rec *record) error {
		now := e.clock.Now()
		defer func() {
			snapshot = rec.snapshot(now)
		}()

		if event, closed := e.expireLocked(rec, now); closed {
			events = append(events, event)
		}
		if !rec.item.IsActive {
			return ErrAuctionEnded
		}
		if req.ActorID == rec.item.SellerID {
			return ErrSelfBid
		}

		var (
			event Event
			err   error
		)
		switch rec.item.Type {
		case Dutch:
			event = e.admitDutch(rec, req.ActorID, now)
		default:
			event, err = e.admitForward(rec, req, now)
		}
		if err != nil {
			return err
		}
		events = append(events, event)
		return nil
	})
	e.publish(events...)
	return snapshot, err
}

func (e *Engine) admitForward(rec *record, req BidRequest, now time.Time) (Event, error) {
	current := CurrentPrice(rec.item, now)
	// 零與負數同樣視為出價過低，讓呼叫端拿到最低出價
	if req.Amount.LessThanOrEqual(current) {
		return Event{}, &BidTooLowError{
			Current: current,
			Minimum: current.Add(minimumUnit),
		}
	}
	if !validAmount(req.Amount) {
		return Event{}, ErrInvalidAmount
	}

	bid := Bid{
		ID:        uuid.New(),
		ItemID:    rec.item.ID,
		BidderID:  req.ActorID,
		Amount:    req.Amount,
		Timestamp: now,
	}
	bidder := req.ActorID
	rec.bids = append(rec.bids, bid)
	rec.item.CurrentPrice = req.Amount
	rec.item.CurrentBidderID = &bidder
	rec.item.Version++

	e.logger.Info("Higher bid occurs",
		slog.String("itemID", rec.item.ID.String()),
		slog.String("user", req.ActorID.String()),
		slog.String("from", current.StringFixed(moneyPlaces)),
		slog.String("to", req.Amount.StringFixed(moneyPlaces)),
	)
	event := newEvent(EventBidPlaced, rec.item, now)
	event.Bid = &bid
	return event, nil
}

func (e *Engine) admitDutch(rec *record, actorID uuid.UUID, now time.Time) Event {
	price := CurrentPrice(rec.item, now)
	bidder := actorID
	rec.item.CurrentPrice = price
	rec.item.CurrentBidderID = &bidder
	rec.item.IsActive = false
	rec.item.Version++
	e.markClosed(rec.item.ID)

	e.logger.Info("Dutch auction accepted",
		slog.String("itemID", rec.item.ID.String()),
		slog.String("user", actorID.String()),
		slog.String("price", price.StringFixed(moneyPlaces)),
	)
	return newEvent(EventItemSold, rec.item, now)
}

func (e *Engine) markClosed(itemID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.open, itemID)
}
