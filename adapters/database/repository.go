package database

import (
	"context"
	"fmt"
	"log/slog"

	"bidcore/engine"
	"bidcore/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Restorer 可以接收持久層載入的商品狀態，*engine.Engine 滿足這個介面
type Restorer interface {
	Restore(item engine.AuctionItem, bids []engine.Bid, receipt *engine.Receipt) error
}

// Record 一個商品以及它的出價紀錄與收據
type Record struct {
	Item    engine.AuctionItem
	Bids    []engine.Bid
	Receipt *engine.Receipt
}

type repositoryOptions struct {
	logger *slog.Logger
}

type RepositoryOption func(*repositoryOptions)

// WithRepositoryLogger 設置日誌記錄器
func WithRepositoryLogger(logger *slog.Logger) RepositoryOption {
	return func(o *repositoryOptions) {
		o.logger = logger
	}
}

// Repository 將引擎事件寫入資料庫，並在啟動時把狀態載回引擎
//
// 事件至少會被送達一次，而且同一個商品的事件可能以非提交順序抵達，
// 所以所有寫入都必須是冪等的，商品狀態只接受版本號較新的更新。
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, opts ...RepositoryOption) *Repository {
	// 默認選項
	options := repositoryOptions{
		logger: slog.Default(),
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Repository{
		db:     db,
		logger: options.logger.With(slog.String("caller", "Repository")),
	}
}

// Migrate 建立或更新資料表
func (r *Repository) Migrate(ctx context.Context) error {
	const op = "Repository.Migrate"
	err := r.db.WithContext(ctx).AutoMigrate(
		&models.AuctionItem{},
		&models.Bid{},
		&models.Payment{},
	)
	if err != nil {
		return fmt.Errorf("[%s] Fail to migrate tables, err=%w", op, err)
	}
	return nil
}

// Apply 將一個事件寫入資料庫
func (r *Repository) Apply(ctx context.Context, event engine.Event) error {
	const op = "Repository.Apply"
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertItem(tx, itemRow(event.Item)); err != nil {
			return fmt.Errorf("upsert item: %w", err)
		}
		if event.Bid != nil {
			row := bidRow(*event.Bid)
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("insert bid: %w", err)
			}
		}
		if event.Receipt != nil {
			row := paymentRow(*event.Receipt)
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return fmt.Errorf("insert payment: %w", err)
			}
		}
		if event.Kind == engine.EventItemRemoved {
			if err := tx.Delete(&models.AuctionItem{ID: event.ItemID}).Error; err != nil {
				return fmt.Errorf("delete item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to apply %s event of item %v, err=%w", op, event.Kind, event.ItemID, err)
	}
	r.logger.Debug("Event persisted", slog.String("kind", string(event.Kind)), slog.String("itemID", event.ItemID.String()))
	return nil
}

// upsertItem 寫入商品狀態，已存在且版本號不小於新狀態的資料列不會被覆蓋
func upsertItem(tx *gorm.DB, row models.AuctionItem) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title",
			"description",
			"current_price",
			"current_bidder_id",
			"is_active",
			"version",
			"updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{
				SQL: "? < ?",
				Vars: []any{
					clause.Column{Table: clause.CurrentTable, Name: "version"},
					clause.Column{Table: "excluded", Name: "version"},
				},
			},
		}},
	}).Create(&row).Error
}

// LoadAll 載入所有未刪除的商品，出價紀錄依時間排序
func (r *Repository) LoadAll(ctx context.Context) ([]Record, error) {
	const op = "Repository.LoadAll"
	var rows []models.AuctionItem
	err := r.db.WithContext(ctx).
		Preload("Bids", func(db *gorm.DB) *gorm.DB {
			return db.Order("placed_at ASC")
		}).
		Preload("Payment").
		Order("end_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load auction items, err=%w", op, err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, recordFromRow(row))
	}
	return records, nil
}

// Hydrate 把資料庫中的狀態載入 target，回傳載入的商品數量
func (r *Repository) Hydrate(ctx context.Context, target Restorer) (int, error) {
	const op = "Repository.Hydrate"
	records, err := r.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("[%s] Fail to load records, err=%w", op, err)
	}
	for _, record := range records {
		if err := target.Restore(record.Item, record.Bids, record.Receipt); err != nil {
			return 0, fmt.Errorf("[%s] Fail to restore item %v, err=%w", op, record.Item.ID, err)
		}
	}
	r.logger.Info("Auction state hydrated", slog.Int("items", len(records)))
	return len(records), nil
}
