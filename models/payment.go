package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment 得標者付款後留下的收據，每個商品最多一筆
type Payment struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AuctionItemID      uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex;<-:create"`
	BuyerID            uuid.UUID       `gorm:"type:uuid;not null;index;<-:create"`
	ConfirmationNumber string          `gorm:"type:varchar(32);not null;uniqueIndex;<-:create"`
	WinningBid         decimal.Decimal `gorm:"type:numeric(12,2);not null;<-:create"`
	ShippingCost       decimal.Decimal `gorm:"type:numeric(12,2);not null;<-:create"`
	Expedited          bool            `gorm:"not null;<-:create"`
	Total              decimal.Decimal `gorm:"type:numeric(12,2);not null;<-:create"`
	PaymentMethod      string          `gorm:"type:varchar(64);not null;<-:create"`
	PaidAt             time.Time       `gorm:"not null;<-:create"`
}
