package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Class 錯誤分類，呼叫端依此決定是否重試
type Class int

const (
	ClassUnknown Class = iota
	// ClassValidation 使用者修正輸入後可以重試
	ClassValidation
	// ClassState 對此請求而言是終結狀態，重試沒有幫助
	ClassState
	// ClassContention 暫時性的競爭，可以退避後重試
	ClassContention
	// ClassNotFound 商品或收據不存在
	ClassNotFound
)

var (
	ErrSelfBid         = errors.New("seller cannot bid on own item")
	ErrInvalidAmount   = errors.New("bid amount must be positive with at most two decimal places")
	ErrInvalidTerms    = errors.New("invalid auction terms")
	ErrAuctionEnded    = errors.New("auction has ended")
	ErrAuctionActive   = errors.New("auction is still active")
	ErrNotWinner       = errors.New("actor is not the winner of this auction")
	ErrAlreadyPaid     = errors.New("item has already been paid for")
	ErrForbidden       = errors.New("actor is not allowed to access this resource")
	ErrHasBids         = errors.New("item already has a bidder")
	ErrBusy            = errors.New("item is busy, retry later")
	ErrItemNotFound    = errors.New("auction item not found")
	ErrReceiptNotFound = errors.New("receipt not found")
	ErrDuplicateItem   = errors.New("auction item already exists")
)

// BidTooLowError 出價沒有高於目前價格，Minimum 為下一個可接受的金額
type BidTooLowError struct {
	Current decimal.Decimal
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid too low: current price is %s, minimum bid is %s", e.Current.StringFixed(moneyPlaces), e.Minimum.StringFixed(moneyPlaces))
}

// ClassOf 回傳錯誤的分類
func ClassOf(err error) Class {
	var tooLow *BidTooLowError
	switch {
	case err == nil:
		return ClassUnknown
	case errors.As(err, &tooLow),
		errors.Is(err, ErrSelfBid),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidTerms):
		return ClassValidation
	case errors.Is(err, ErrAuctionEnded),
		errors.Is(err, ErrAuctionActive),
		errors.Is(err, ErrNotWinner),
		errors.Is(err, ErrAlreadyPaid),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrHasBids),
		errors.Is(err, ErrDuplicateItem):
		return ClassState
	case errors.Is(err, ErrBusy):
		return ClassContention
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrReceiptNotFound):
		return ClassNotFound
	}
	return ClassUnknown
}
