package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

type engineOptions struct {
	clock       Clock
	logger      *slog.Logger
	sink        EventSink
	lockWait    time.Duration
	busyRetries uint64
}

type Option func(*engineOptions)

// WithClock 設置時間來源
func WithClock(clock Clock) Option {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithEventSink 設置事件的接收者
func WithEventSink(sink EventSink) Option {
	return func(o *engineOptions) {
		o.sink = sink
	}
}

// WithLockWait 設置每次等待商品鎖的最長時間
func WithLockWait(d time.Duration) Option {
	return func(o *engineOptions) {
		o.lockWait = d
	}
}

// WithBusyRetries 設置取鎖逾時後自動重試的次數
func WithBusyRetries(n uint64) Option {
	return func(o *engineOptions) {
		o.busyRetries = n
	}
}

// record 商品在記憶體中的權威狀態，除了不可變欄位以外都必須持有商品鎖才能存取
type record struct {
	item    AuctionItem
	bids    []Bid
	receipt *Receipt
}

// Engine 拍賣的出價受理、生命週期與付款授權
type Engine struct {
	clock   Clock
	logger  *slog.Logger
	sink    EventSink
	locks   *LockArena
	options engineOptions

	mu      sync.RWMutex // 只保護 records 和 open 的讀寫，不會在持有時等待商品鎖
	records map[uuid.UUID]*record
	open    map[uuid.UUID]time.Time // 尚未結束的商品與其結束時間
}

func NewEngine(opts ...Option) *Engine {
	// 默認選項
	options := engineOptions{
		logger:      slog.Default(),
		lockWait:    200 * time.Millisecond,
		busyRetries: 3,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	if options.clock == nil {
		options.clock = NewSystemClock()
	}

	return &Engine{
		clock:   options.clock,
		logger:  options.logger.With(slog.String("caller", "Engine")),
		sink:    options.sink,
		locks:   NewLockArena(),
		options: options,
		records: make(map[uuid.UUID]*record),
		open:    make(map[uuid.UUID]time.Time),
	}
}

// Now 引擎使用的目前時間
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Register 新增一個拍賣商品
func (e *Engine) Register(ctx context.Context, item AuctionItem) (Snapshot, error) {
	now := e.clock.Now()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.CurrentPrice = item.StartingPrice
	item.CurrentBidderID = nil
	item.IsActive = true
	item.Version = 1
	if err := item.Validate(); err != nil {
		return Snapshot{}, err
	}
	if !item.EndTime.After(now) {
		return Snapshot{}, fmt.Errorf("%w: end time is in the past", ErrInvalidTerms)
	}

	rec := &record{item: item}
	e.mu.Lock()
	if _, exists := e.records[item.ID]; exists {
		e.mu.Unlock()
		return Snapshot{}, ErrDuplicateItem
	}
	e.records[item.ID] = rec
	e.open[item.ID] = item.EndTime
	e.mu.Unlock()

	e.logger.Info("Auction item registered", slog.String("itemID", item.ID.String()), slog.String("type", string(item.Type)))
	e.publish(newEvent(EventItemRegistered, item, now))
	return e.Get(ctx, item.ID)
}

// Restore 從持久層載入商品狀態，不會產生事件
func (e *Engine) Restore(item AuctionItem, bids []Bid, receipt *Receipt) error {
	if item.ID == uuid.Nil {
		return fmt.Errorf("%w: item %v", ErrInvalidTerms, errInvalidID)
	}
	if item.CurrentBidderID != nil && *item.CurrentBidderID == item.SellerID {
		return fmt.Errorf("%w: seller cannot be the current bidder", ErrInvalidTerms)
	}
	if item.Version == 0 {
		item.Version = 1
	}
	rec := &record{
		item:    cloneItem(item),
		bids:    append([]Bid(nil), bids...),
		receipt: receipt,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.records[item.ID]; exists {
		return ErrDuplicateItem
	}
	e.records[item.ID] = rec
	if item.IsActive {
		e.open[item.ID] = item.EndTime
	}
	return nil
}

// Get 取得商品目前的狀態，到期的商品會在這裡被結束
func (e *Engine) Get(ctx context.Context, itemID uuid.UUID) (Snapshot, error) {
	var (
		snapshot Snapshot
		events   []Event
	)
	err := e.withItemLock(ctx, itemID, func(rec *record) error {
		now := e.clock.Now()
		if event, closed := e.expireLocked(rec, now); closed {
			events = append(events, event)
		}
		snapshot = rec.snapshot(now)
		return nil
	})
	e.publish(events...)
	return snapshot, err
}

// List 列出符合條件的商品，依結束時間排序
func (e *Engine) List(ctx context.Context, filter ListFilter) ([]Snapshot, error) {
	snapshots := make([]Snapshot, 0)
	for _, id := range e.itemIDs() {
		snapshot, err := e.Get(ctx, id)
		if errors.Is(err, ErrItemNotFound) {
			continue
		}
		// 長時間被占用的商品不影響整份清單
		if errors.Is(err, ErrBusy) {
			e.logger.Warn("Skip busy item in listing", slog.String("itemID", id.String()))
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.ActiveOnly && !snapshot.Item.IsActive {
			continue
		}
		if filter.SellerID != nil && snapshot.Item.SellerID != *filter.SellerID {
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	sortByEndTime(snapshots)
	return snapshots, nil
}

// Remove 刪除商品，只有賣家可以刪除，且只能在沒有人出價之前
func (e *Engine) Remove(ctx context.Context, itemID, actorID uuid.UUID) error {
	var event Event
	err := e.withItemLock(ctx, itemID, func(rec *record) error {
		if rec.item.SellerID != actorID {
			return ErrForbidden
		}
		if rec.item.CurrentBidderID != nil {
			return ErrHasBids
		}
		e.mu.Lock()
		delete(e.records, itemID)
		delete(e.open, itemID)
		e.mu.Unlock()
		rec.item.IsActive = false
		rec.item.Version++
		event = newEvent(EventItemRemoved, rec.item, e.clock.Now())
		return nil
	})
	if err != nil {
		return err
	}
	e.locks.Forget(itemID)
	e.logger.Info("Auction item removed", slog.String("itemID", itemID.String()))
	e.publish(event)
	return nil
}

func (e *Engine) lookup(itemID uuid.UUID) (*record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rec, ok := e.records[itemID]
	return rec, ok
}

func (e *Engine) itemIDs() []uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(e.records))
	for id := range e.records {
		ids = append(ids, id)
	}
	return ids
}

// withItemLock 在商品鎖內執行 fn
// 鎖內只做記憶體運算，事件必須等到 fn 回傳、鎖釋放之後才發送
func (e *Engine) withItemLock(ctx context.Context, itemID uuid.UUID, fn func(rec *record) error) error {
	if _, ok := e.lookup(itemID); !ok {
		return ErrItemNotFound
	}
	release, err := e.acquire(ctx, itemID)
	if err != nil {
		return err
	}
	defer release()
	// 等待鎖的期間商品可能已經被刪除
	rec, ok := e.lookup(itemID)
	if !ok {
		return ErrItemNotFound
	}
	return fn(rec)
}

// acquire 以有限的等待時間取得商品鎖，逾時會自動退避重試，重試用盡後回傳 ErrBusy
func (e *Engine) acquire(ctx context.Context, itemID uuid.UUID) (func(), error) {
	var release func()
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		waitCtx, cancel := context.WithTimeout(ctx, e.options.lockWait)
		defer cancel()
		r, err := e.locks.Acquire(waitCtx, itemID)
		if err == nil {
			release = r
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return ErrBusy
	}, backoff.WithContext(backoff.WithMaxRetries(policy, e.options.busyRetries), ctx))
	if err != nil {
		if errors.Is(err, ErrBusy) {
			e.logger.Warn("Item lock contention", slog.String("itemID", itemID.String()), slog.Uint64("retries", e.options.busyRetries))
			return nil, ErrBusy
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return release, nil
}

func (e *Engine) publish(events ...Event) {
	if e.sink == nil {
		return
	}
	for _, event := range events {
		if err := e.sink.Publish(event); err != nil {
			e.logger.Error("Fail to publish event", slog.String("kind", string(event.Kind)), slog.String("itemID", event.ItemID.String()), slog.Any("error", err))
		}
	}
}

func (rec *record) snapshot(now time.Time) Snapshot {
	snapshot := Snapshot{
		Item:       cloneItem(rec.item),
		Price:      CurrentPrice(rec.item, now),
		Bids:       append([]Bid(nil), rec.bids...),
		Paid:       rec.receipt != nil,
		ObservedAt: now,
	}
	if rec.item.Type == Forward && rec.item.IsActive {
		minimum := MinimumBid(rec.item, now)
		snapshot.Minimum = &minimum
	}
	return snapshot
}

func cloneItem(item AuctionItem) AuctionItem {
	if item.CurrentBidderID != nil {
		bidder := *item.CurrentBidderID
		item.CurrentBidderID = &bidder
	}
	return item
}
