package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid 代表拍賣商品的出價紀錄
// 記錄每次競標的金額、競標者和競標商品
type Bid struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AuctionItemID uuid.UUID       `gorm:"type:uuid;not null;index;<-:create"`
	BidderID      uuid.UUID       `gorm:"type:uuid;not null;<-:create"`
	Amount        decimal.Decimal `gorm:"type:numeric(12,2);not null;<-:create"`
	PlacedAt      time.Time       `gorm:"not null;<-:create"`
}
