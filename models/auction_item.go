package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AuctionItem 代表拍賣系統中的商品
// 包含拍賣條款、目前價格與得標者，以及用來丟棄舊狀態的版本號
type AuctionItem struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	SellerID    uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	Title       string    `gorm:"type:varchar(255);not null"`
	Description string    `gorm:"type:text;not null"`

	Type                    string          `gorm:"type:varchar(16);not null;<-:create"`
	StartingPrice           decimal.Decimal `gorm:"type:numeric(12,2);not null;<-:create"`
	DutchDecreasePercentage decimal.Decimal `gorm:"type:numeric(6,3);not null;<-:create"`
	DutchDecreaseInterval   time.Duration   `gorm:"not null;<-:create"`
	StandardShippingCost    decimal.Decimal `gorm:"type:numeric(12,2);not null;<-:create"`
	ExpeditedShippingCost   decimal.Decimal `gorm:"type:numeric(12,2);not null;<-:create"`
	EndTime                 time.Time       `gorm:"not null;index;<-:create"`

	CurrentPrice    decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CurrentBidderID *uuid.UUID      `gorm:"type:uuid;index"`
	IsActive        bool            `gorm:"not null;index"`
	Version         uint64          `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`

	// 外鍵關聯
	Bids    []Bid    `gorm:"foreignKey:AuctionItemID"`
	Payment *Payment `gorm:"foreignKey:AuctionItemID"`
}
