package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionType 拍賣類型，建立後不可變更
type AuctionType string

const (
	Forward AuctionType = "FORWARD"
	Dutch   AuctionType = "DUTCH"
)

// 金額的最小單位(分)
var (
	minimumUnit   = decimal.New(1, -2)
	hundred       = decimal.NewFromInt(100)
	moneyPlaces   = int32(2)
	percentPlaces = int32(3) // 與資料庫 numeric(6,3) 欄位一致
	errInvalidID  = errors.New("id cannot be empty")
)

// AuctionItem 代表一個拍賣商品以及它的可變狀態
//
// 除了 CurrentPrice、CurrentBidderID、IsActive、Version 之外的欄位都在建立後固定，
// 可變欄位只能在取得商品鎖之後修改。
type AuctionItem struct {
	ID          uuid.UUID
	SellerID    uuid.UUID
	Title       string
	Description string

	Type          AuctionType
	StartingPrice decimal.Decimal
	EndTime       time.Time
	CreatedAt     time.Time

	// 只有 DUTCH 拍賣使用
	DutchDecreasePercentage decimal.Decimal
	DutchDecreaseInterval   time.Duration

	StandardShippingCost  decimal.Decimal
	ExpeditedShippingCost decimal.Decimal

	CurrentPrice    decimal.Decimal
	CurrentBidderID *uuid.UUID
	IsActive        bool

	// 每次提交變更都會加一，持久層用來丟棄較舊的狀態
	Version uint64
}

// Validate 檢查商品建立時的條款是否合法
func (item AuctionItem) Validate() error {
	if item.SellerID == uuid.Nil {
		return fmt.Errorf("%w: seller %v", ErrInvalidTerms, errInvalidID)
	}
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrInvalidTerms)
	}
	if !item.StartingPrice.IsPositive() {
		return fmt.Errorf("%w: starting price must be positive", ErrInvalidTerms)
	}
	if !withinPlaces(item.StartingPrice, moneyPlaces) {
		return fmt.Errorf("%w: starting price must have at most two decimal places", ErrInvalidTerms)
	}
	if !item.EndTime.After(item.CreatedAt) {
		return fmt.Errorf("%w: end time must be after creation time", ErrInvalidTerms)
	}
	if item.StandardShippingCost.IsNegative() || item.ExpeditedShippingCost.IsNegative() {
		return fmt.Errorf("%w: shipping cost cannot be negative", ErrInvalidTerms)
	}
	if !withinPlaces(item.StandardShippingCost, moneyPlaces) || !withinPlaces(item.ExpeditedShippingCost, moneyPlaces) {
		return fmt.Errorf("%w: shipping cost must have at most two decimal places", ErrInvalidTerms)
	}
	switch item.Type {
	case Forward:
		if !item.DutchDecreasePercentage.IsZero() || item.DutchDecreaseInterval != 0 {
			return fmt.Errorf("%w: decrease terms are only allowed on dutch auctions", ErrInvalidTerms)
		}
	case Dutch:
		if !item.DutchDecreasePercentage.IsPositive() || item.DutchDecreasePercentage.GreaterThan(hundred) {
			return fmt.Errorf("%w: decrease percentage must be in (0, 100]", ErrInvalidTerms)
		}
		if !withinPlaces(item.DutchDecreasePercentage, percentPlaces) {
			return fmt.Errorf("%w: decrease percentage must have at most three decimal places", ErrInvalidTerms)
		}
		if item.DutchDecreaseInterval < time.Second {
			return fmt.Errorf("%w: decrease interval must be at least one second", ErrInvalidTerms)
		}
	default:
		return fmt.Errorf("%w: unknown auction type %q", ErrInvalidTerms, item.Type)
	}
	return nil
}

// Bid 一筆已被接受的出價(只有 FORWARD 拍賣會產生)
type Bid struct {
	ID        uuid.UUID
	ItemID    uuid.UUID
	BidderID  uuid.UUID
	Amount    decimal.Decimal
	Timestamp time.Time
}

// CanonicalBid 回傳金額最高的出價，金額相同時取時間最早的一筆
func CanonicalBid(bids []Bid) (Bid, bool) {
	if len(bids) == 0 {
		return Bid{}, false
	}
	best := bids[0]
	for _, bid := range bids[1:] {
		if bid.Amount.GreaterThan(best.Amount) ||
			(bid.Amount.Equal(best.Amount) && bid.Timestamp.Before(best.Timestamp)) {
			best = bid
		}
	}
	return best, true
}

// Receipt 付款成功後的收據
type Receipt struct {
	ID                 uuid.UUID
	ItemID             uuid.UUID
	BuyerID            uuid.UUID
	ConfirmationNumber string
	WinningBid         decimal.Decimal
	ShippingCost       decimal.Decimal
	Expedited          bool
	Total              decimal.Decimal
	PaymentMethod      string
	PaidAt             time.Time
}

// Snapshot 某個時間點的商品狀態，CurrentPrice 已經套用價格模型
type Snapshot struct {
	Item       AuctionItem
	Price      decimal.Decimal
	Minimum    *decimal.Decimal
	Bids       []Bid
	Paid       bool
	ObservedAt time.Time
}

// Remaining 距離拍賣結束的時間
func (s Snapshot) Remaining() time.Duration {
	if !s.Item.IsActive {
		return 0
	}
	return max(0, s.Item.EndTime.Sub(s.ObservedAt))
}

// BidRequest 出價或(荷式拍賣)接受目前價格的請求
type BidRequest struct {
	ItemID  uuid.UUID
	ActorID uuid.UUID
	Amount  decimal.Decimal
}

// PaymentRequest 得標者的付款請求
type PaymentRequest struct {
	ItemID            uuid.UUID
	ActorID           uuid.UUID
	ExpeditedShipping bool
	PaymentMethod     string
}

// WonItem 使用者得標的商品，Receipt 為 nil 代表尚未付款
type WonItem struct {
	Item    AuctionItem
	Receipt *Receipt
}

// PaymentOptions 得標者付款前看到的金額，兩種運送方式的總價都會列出
type PaymentOptions struct {
	ItemID                uuid.UUID
	Title                 string
	WinningBid            decimal.Decimal
	StandardShippingCost  decimal.Decimal
	ExpeditedShippingCost decimal.Decimal
	TotalIfStandard       decimal.Decimal
	TotalIfExpedited      decimal.Decimal
}

// UserBid 使用者的一筆出價以及該商品目前的狀態，Leading 表示這筆出價目前領先
type UserBid struct {
	Bid     Bid
	Item    AuctionItem
	Leading bool
}

// ListFilter 列出商品的條件
type ListFilter struct {
	ActiveOnly bool
	SellerID   *uuid.UUID
}

func sortByEndTime(snapshots []Snapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		if snapshots[i].Item.EndTime.Equal(snapshots[j].Item.EndTime) {
			return snapshots[i].Item.ID.String() < snapshots[j].Item.ID.String()
		}
		return snapshots[i].Item.EndTime.Before(snapshots[j].Item.EndTime)
	})
}
