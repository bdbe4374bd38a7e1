package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const defaultPaymentMethod = "Credit Card"

// Pay 授權得標者付款並記錄收據
//
// 只有已結束且得標者為 actor 的商品可以付款。同一位得標者以相同的運送方式重複付款時
// 回傳既有的收據，不會重複扣款；付款後改變運送方式則回傳 ErrAlreadyPaid。
func (e *Engine) Pay(ctx context.Context, req PaymentRequest) (Receipt, error) {
	var (
		receipt Receipt
		events  []Event
	)
	err := e.withItemLock(ctx, req.ItemID, func(rec *record) error {
		now := e.clock.Now()
		if event, closed := e.expireLocked(rec, now); closed {
			events = append(events, event)
		}
		if rec.item.IsActive {
			return ErrAuctionActive
		}
		if rec.item.CurrentBidderID == nil || *rec.item.CurrentBidderID != req.ActorID {
			return ErrNotWinner
		}
		if rec.receipt != nil {
			if rec.receipt.BuyerID == req.ActorID && rec.receipt.Expedited == req.ExpeditedShipping {
				receipt = *rec.receipt
				return nil
			}
			return ErrAlreadyPaid
		}

		shipping := rec.item.StandardShippingCost
		if req.ExpeditedShipping {
			shipping = shipping.Add(rec.item.ExpeditedShippingCost)
		}
		method := strings.TrimSpace(req.PaymentMethod)
		if method == "" {
			method = defaultPaymentMethod
		}
		receipt = Receipt{
			ID:                 uuid.New(),
			ItemID:             rec.item.ID,
			BuyerID:            req.ActorID,
			ConfirmationNumber: newConfirmationNumber(),
			WinningBid:         rec.item.CurrentPrice,
			ShippingCost:       shipping,
			Expedited:          req.ExpeditedShipping,
			Total:              rec.item.CurrentPrice.Add(shipping),
			PaymentMethod:      method,
			PaidAt:             now,
		}
		stored := receipt
		rec.receipt = &stored

		event := newEvent(EventPaymentRecorded, rec.item, now)
		event.Receipt = &stored
		events = append(events, event)

		e.logger.Info("Payment recorded",
			slog.String("itemID", rec.item.ID.String()),
			slog.String("buyer", req.ActorID.String()),
			slog.String("confirmation", receipt.ConfirmationNumber),
		)
		return nil
	})
	e.publish(events...)
	return receipt, err
}

// PaymentOptions 付款前的金額預覽，檢查條件與 Pay 相同，已付款則回傳 ErrAlreadyPaid
func (e *Engine) PaymentOptions(ctx context.Context, itemID, actorID uuid.UUID) (PaymentOptions, error) {
	var (
		options PaymentOptions
		events  []Event
	)
	err := e.withItemLock(ctx, itemID, func(rec *record) error {
		if event, closed := e.expireLocked(rec, e.clock.Now()); closed {
			events = append(events, event)
		}
		if rec.item.IsActive {
			return ErrAuctionActive
		}
		if rec.item.CurrentBidderID == nil || *rec.item.CurrentBidderID != actorID {
			return ErrNotWinner
		}
		if rec.receipt != nil {
			return ErrAlreadyPaid
		}
		standard := rec.item.CurrentPrice.Add(rec.item.StandardShippingCost)
		options = PaymentOptions{
			ItemID:                rec.item.ID,
			Title:                 rec.item.Title,
			WinningBid:            rec.item.CurrentPrice,
			StandardShippingCost:  rec.item.StandardShippingCost,
			ExpeditedShippingCost: rec.item.ExpeditedShippingCost,
			TotalIfStandard:       standard,
			TotalIfExpedited:      standard.Add(rec.item.ExpeditedShippingCost),
		}
		return nil
	})
	e.publish(events...)
	return options, err
}

// Receipt 取得商品的收據，只有買家本人可以查看
func (e *Engine) Receipt(ctx context.Context, itemID, actorID uuid.UUID) (Receipt, error) {
	var receipt Receipt
	err := e.withItemLock(ctx, itemID, func(rec *record) error {
		if rec.item.CurrentBidderID != nil && *rec.item.CurrentBidderID != actorID {
			return ErrForbidden
		}
		if rec.receipt == nil {
			return ErrReceiptNotFound
		}
		if rec.receipt.BuyerID != actorID {
			return ErrForbidden
		}
		receipt = *rec.receipt
		return nil
	})
	return receipt, err
}

// WonItems 列出 actor 得標的商品，最近結束的排在前面
func (e *Engine) WonItems(ctx context.Context, actorID uuid.UUID) ([]WonItem, error) {
	won := make([]WonItem, 0)
	for _, id := range e.itemIDs() {
		var (
			item   WonItem
			match  bool
			events []Event
		)
		err := e.withItemLock(ctx, id, func(rec *record) error {
			if event, closed := e.expireLocked(rec, e.clock.Now()); closed {
				events = append(events, event)
			}
			if rec.item.IsActive || rec.item.CurrentBidderID == nil || *rec.item.CurrentBidderID != actorID {
				return nil
			}
			match = true
			item.Item = cloneItem(rec.item)
			if rec.receipt != nil {
				receipt := *rec.receipt
				item.Receipt = &receipt
			}
			return nil
		})
		e.publish(events...)
		if errors.Is(err, ErrItemNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if match {
			won = append(won, item)
		}
	}
	sort.SliceStable(won, func(i, j int) bool {
		return won[i].Item.EndTime.After(won[j].Item.EndTime)
	})
	return won, nil
}

// UserBids 列出 actor 在 FORWARD 拍賣中的所有出價，最新的排在前面
func (e *Engine) UserBids(ctx context.Context, actorID uuid.UUID) ([]UserBid, error) {
	bids := make([]UserBid, 0)
	for _, id := range e.itemIDs() {
		var events []Event
		err := e.withItemLock(ctx, id, func(rec *record) error {
			if event, closed := e.expireLocked(rec, e.clock.Now()); closed {
				events = append(events, event)
			}
			leading := rec.item.CurrentBidderID != nil && *rec.item.CurrentBidderID == actorID
			for _, bid := range rec.bids {
				if bid.BidderID != actorID {
					continue
				}
				bids = append(bids, UserBid{
					Bid:     bid,
					Item:    cloneItem(rec.item),
					Leading: leading && bid.Amount.Equal(rec.item.CurrentPrice),
				})
			}
			return nil
		})
		e.publish(events...)
		if errors.Is(err, ErrItemNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(bids, func(i, j int) bool {
		return bids[i].Bid.Timestamp.After(bids[j].Bid.Timestamp)
	})
	return bids, nil
}

// newConfirmationNumber 產生 PAY-XXXXXXXX 格式的付款確認碼
func newConfirmationNumber() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "PAY-" + strings.ToUpper(id[:8])
}
