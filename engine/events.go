package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// EventKind 狀態變更的種類
type EventKind string

const (
	EventItemRegistered  EventKind = "ITEM_REGISTERED"
	EventItemRemoved     EventKind = "ITEM_REMOVED"
	EventBidPlaced       EventKind = "BID_PLACED"
	EventItemSold        EventKind = "ITEM_SOLD"
	EventAuctionClosed   EventKind = "AUCTION_CLOSED"
	EventPaymentRecorded EventKind = "PAYMENT_RECORDED"
)

// Event 一次已提交的狀態變更，Item 為提交後的商品狀態
type Event struct {
	ID         uuid.UUID
	Kind       EventKind
	ItemID     uuid.UUID
	Item       AuctionItem
	Bid        *Bid
	Receipt    *Receipt
	OccurredAt time.Time
}

func newEvent(kind EventKind, item AuctionItem, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       kind,
		ItemID:     item.ID,
		Item:       cloneItem(item),
		OccurredAt: at,
	}
}

// EventSink 接收已提交的事件，會在商品鎖釋放之後被呼叫
type EventSink interface {
	Publish(event Event) error
}

// EventSinkFunc 讓一般函式滿足 EventSink
type EventSinkFunc func(event Event) error

func (f EventSinkFunc) Publish(event Event) error {
	return f(event)
}

type multiSink []EventSink

// MultiSink 將事件依序送到所有 sink，nil 會被略過
func MultiSink(sinks ...EventSink) EventSink {
	filtered := make(multiSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return filtered
}

func (m multiSink) Publish(event Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Publish(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
