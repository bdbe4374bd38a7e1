package api

import (
	"time"

	"bidcore/engine"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// 金額一律以兩位小數的字串輸出
func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type CreateItemRequest struct {
	Title                        string             `json:"title" binding:"required"`
	Description                  string             `json:"description"`
	Type                         engine.AuctionType `json:"type" binding:"required,oneof=FORWARD DUTCH"`
	StartingPrice                decimal.Decimal    `json:"startingPrice"`
	EndTime                      time.Time          `json:"endTime" binding:"required"`
	DutchDecreasePercentage      decimal.Decimal    `json:"dutchDecreasePercentage"`
	DutchDecreaseIntervalSeconds int64              `json:"dutchDecreaseIntervalSeconds"`
	StandardShippingCost         decimal.Decimal    `json:"standardShippingCost"`
	ExpeditedShippingCost        decimal.Decimal    `json:"expeditedShippingCost"`
}

type BidRequest struct {
	// DUTCH 拍賣不需要金額
	Amount decimal.Decimal `json:"amount"`
}

type PaymentRequest struct {
	ExpeditedShipping bool   `json:"expeditedShipping"`
	PaymentMethod     string `json:"paymentMethod"`
}

type BidResponse struct {
	ID       uuid.UUID `json:"id"`
	BidderID uuid.UUID `json:"bidderId"`
	Amount   string    `json:"amount"`
	Time     time.Time `json:"time"`
}

type ItemResponse struct {
	ID                           uuid.UUID          `json:"id"`
	SellerID                     uuid.UUID          `json:"sellerId"`
	Title                        string             `json:"title"`
	Description                  string             `json:"description"`
	Type                         engine.AuctionType `json:"type"`
	StartingPrice                string             `json:"startingPrice"`
	CurrentPrice                 string             `json:"currentPrice"`
	MinimumBid                   *string            `json:"minimumBid,omitempty"`
	CurrentBidderID              *uuid.UUID         `json:"currentBidderId,omitempty"`
	DutchDecreasePercentage      *string            `json:"dutchDecreasePercentage,omitempty"`
	DutchDecreaseIntervalSeconds *int64             `json:"dutchDecreaseIntervalSeconds,omitempty"`
	StandardShippingCost         string             `json:"standardShippingCost"`
	ExpeditedShippingCost        string             `json:"expeditedShippingCost"`
	IsActive                     bool               `json:"isActive"`
	Paid                         bool               `json:"paid"`
	CreatedAt                    time.Time          `json:"createdAt"`
	EndTime                      time.Time          `json:"endTime"`
	RemainingSeconds             int64              `json:"remainingSeconds"`
	Remaining                    string             `json:"remaining"`
	Bids                         []BidResponse      `json:"bids"`
}

type ReceiptResponse struct {
	ID                 uuid.UUID `json:"id"`
	ItemID             uuid.UUID `json:"itemId"`
	BuyerID            uuid.UUID `json:"buyerId"`
	ConfirmationNumber string    `json:"confirmationNumber"`
	WinningBid         string    `json:"winningBid"`
	ShippingCost       string    `json:"shippingCost"`
	Expedited          bool      `json:"expedited"`
	Total              string    `json:"total"`
	PaymentMethod      string    `json:"paymentMethod"`
	PaidAt             time.Time `json:"paidAt"`
}

type WonItemsResponse struct {
	Paid   []WonItemResponse `json:"paid"`
	Unpaid []WonItemResponse `json:"unpaid"`
}

type WonItemResponse struct {
	ID         uuid.UUID        `json:"id"`
	Title      string           `json:"title"`
	WinningBid string           `json:"winningBid"`
	EndTime    time.Time        `json:"endTime"`
	Receipt    *ReceiptResponse `json:"receipt,omitempty"`
}

type PaymentOptionsResponse struct {
	ItemID                uuid.UUID `json:"itemId"`
	Title                 string    `json:"title"`
	WinningBid            string    `json:"winningBid"`
	StandardShippingCost  string    `json:"standardShippingCost"`
	ExpeditedShippingCost string    `json:"expeditedShippingCost"`
	TotalIfStandard       string    `json:"totalIfStandard"`
	TotalIfExpedited      string    `json:"totalIfExpedited"`
}

type UserBidResponse struct {
	BidResponse
	ItemID       uuid.UUID `json:"itemId"`
	Title        string    `json:"title"`
	CurrentPrice string    `json:"currentPrice"`
	IsActive     bool      `json:"isActive"`
	Leading      bool      `json:"leading"`
}

// EventResponse 透過 SSE 送出的事件
type EventResponse struct {
	ID         uuid.UUID        `json:"id"`
	Kind       engine.EventKind `json:"kind"`
	ItemID     uuid.UUID        `json:"itemId"`
	Price      string           `json:"price"`
	BidderID   *uuid.UUID       `json:"bidderId,omitempty"`
	IsActive   bool             `json:"isActive"`
	Bid        *BidResponse     `json:"bid,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

func (req CreateItemRequest) toItem(seller uuid.UUID) engine.AuctionItem {
	return engine.AuctionItem{
		SellerID:                seller,
		Title:                   req.Title,
		Description:             req.Description,
		Type:                    req.Type,
		StartingPrice:           req.StartingPrice,
		EndTime:                 req.EndTime,
		DutchDecreasePercentage: req.DutchDecreasePercentage,
		DutchDecreaseInterval:   time.Duration(req.DutchDecreaseIntervalSeconds) * time.Second,
		StandardShippingCost:    req.StandardShippingCost,
		ExpeditedShippingCost:   req.ExpeditedShippingCost,
	}
}

func newBidResponse(bid engine.Bid) BidResponse {
	return BidResponse{
		ID:       bid.ID,
		BidderID: bid.BidderID,
		Amount:   formatMoney(bid.Amount),
		Time:     bid.Timestamp,
	}
}

func newItemResponse(snapshot engine.Snapshot) ItemResponse {
	item := snapshot.Item
	remaining := snapshot.Remaining()
	response := ItemResponse{
		ID:                    item.ID,
		SellerID:              item.SellerID,
		Title:                 item.Title,
		Description:           item.Description,
		Type:                  item.Type,
		StartingPrice:         formatMoney(item.StartingPrice),
		CurrentPrice:          formatMoney(snapshot.Price),
		CurrentBidderID:       item.CurrentBidderID,
		StandardShippingCost:  formatMoney(item.StandardShippingCost),
		ExpeditedShippingCost: formatMoney(item.ExpeditedShippingCost),
		IsActive:              item.IsActive,
		Paid:                  snapshot.Paid,
		CreatedAt:             item.CreatedAt,
		EndTime:               item.EndTime,
		RemainingSeconds:      int64(remaining / time.Second),
		Remaining:             engine.FormatRemaining(remaining),
		Bids:                  lo.Map(snapshot.Bids, func(bid engine.Bid, _ int) BidResponse { return newBidResponse(bid) }),
	}
	if snapshot.Minimum != nil {
		response.MinimumBid = lo.ToPtr(formatMoney(*snapshot.Minimum))
	}
	if item.Type == engine.Dutch {
		response.DutchDecreasePercentage = lo.ToPtr(item.DutchDecreasePercentage.String())
		response.DutchDecreaseIntervalSeconds = lo.ToPtr(int64(item.DutchDecreaseInterval / time.Second))
	}
	return response
}

func newReceiptResponse(receipt engine.Receipt) ReceiptResponse {
	return ReceiptResponse{
		ID:                 receipt.ID,
		ItemID:             receipt.ItemID,
		BuyerID:            receipt.BuyerID,
		ConfirmationNumber: receipt.ConfirmationNumber,
		WinningBid:         formatMoney(receipt.WinningBid),
		ShippingCost:       formatMoney(receipt.ShippingCost),
		Expedited:          receipt.Expedited,
		Total:              formatMoney(receipt.Total),
		PaymentMethod:      receipt.PaymentMethod,
		PaidAt:             receipt.PaidAt,
	}
}

func newWonItemsResponse(won []engine.WonItem) WonItemsResponse {
	paid, unpaid := lo.FilterReject(won, func(item engine.WonItem, _ int) bool {
		return item.Receipt != nil
	})
	toResponse := func(won engine.WonItem, _ int) WonItemResponse {
		response := WonItemResponse{
			ID:         won.Item.ID,
			Title:      won.Item.Title,
			WinningBid: formatMoney(won.Item.CurrentPrice),
			EndTime:    won.Item.EndTime,
		}
		if won.Receipt != nil {
			response.Receipt = lo.ToPtr(newReceiptResponse(*won.Receipt))
		}
		return response
	}
	return WonItemsResponse{
		Paid:   lo.Map(paid, toResponse),
		Unpaid: lo.Map(unpaid, toResponse),
	}
}

func newPaymentOptionsResponse(options engine.PaymentOptions) PaymentOptionsResponse {
	return PaymentOptionsResponse{
		ItemID:                options.ItemID,
		Title:                 options.Title,
		WinningBid:            formatMoney(options.WinningBid),
		StandardShippingCost:  formatMoney(options.StandardShippingCost),
		ExpeditedShippingCost: formatMoney(options.ExpeditedShippingCost),
		TotalIfStandard:       formatMoney(options.TotalIfStandard),
		TotalIfExpedited:      formatMoney(options.TotalIfExpedited),
	}
}

func newUserBidResponse(bid engine.UserBid, _ int) UserBidResponse {
	return UserBidResponse{
		BidResponse:  newBidResponse(bid.Bid),
		ItemID:       bid.Item.ID,
		Title:        bid.Item.Title,
		CurrentPrice: formatMoney(bid.Item.CurrentPrice),
		IsActive:     bid.Item.IsActive,
		Leading:      bid.Leading,
	}
}

// newEventResponse 價格以事件發生時間計算，DUTCH 商品在未售出前會持續下降
func newEventResponse(event engine.Event) EventResponse {
	response := EventResponse{
		ID:         event.ID,
		Kind:       event.Kind,
		ItemID:     event.ItemID,
		Price:      formatMoney(engine.CurrentPrice(event.Item, event.OccurredAt)),
		BidderID:   event.Item.CurrentBidderID,
		IsActive:   event.Item.IsActive,
		OccurredAt: event.OccurredAt,
	}
	if event.Bid != nil {
		response.Bid = lo.ToPtr(newBidResponse(*event.Bid))
	}
	return response
}
