package database

import (
	"bidcore/engine"
	"bidcore/models"

	"github.com/samber/lo"
)

func itemRow(item engine.AuctionItem) models.AuctionItem {
	return models.AuctionItem{
		ID:                      item.ID,
		SellerID:                item.SellerID,
		Title:                   item.Title,
		Description:             item.Description,
		Type:                    string(item.Type),
		StartingPrice:           item.StartingPrice,
		DutchDecreasePercentage: item.DutchDecreasePercentage,
		DutchDecreaseInterval:   item.DutchDecreaseInterval,
		StandardShippingCost:    item.StandardShippingCost,
		ExpeditedShippingCost:   item.ExpeditedShippingCost,
		EndTime:                 item.EndTime,
		CurrentPrice:            item.CurrentPrice,
		CurrentBidderID:         item.CurrentBidderID,
		IsActive:                item.IsActive,
		Version:                 item.Version,
		CreatedAt:               item.CreatedAt,
	}
}

func bidRow(bid engine.Bid) models.Bid {
	return models.Bid{
		ID:            bid.ID,
		AuctionItemID: bid.ItemID,
		BidderID:      bid.BidderID,
		Amount:        bid.Amount,
		PlacedAt:      bid.Timestamp,
	}
}

func paymentRow(receipt engine.Receipt) models.Payment {
	return models.Payment{
		ID:                 receipt.ID,
		AuctionItemID:      receipt.ItemID,
		BuyerID:            receipt.BuyerID,
		ConfirmationNumber: receipt.ConfirmationNumber,
		WinningBid:         receipt.WinningBid,
		ShippingCost:       receipt.ShippingCost,
		Expedited:          receipt.Expedited,
		Total:              receipt.Total,
		PaymentMethod:      receipt.PaymentMethod,
		PaidAt:             receipt.PaidAt,
	}
}

func recordFromRow(row models.AuctionItem) Record {
	record := Record{
		Item: engine.AuctionItem{
			ID:                      row.ID,
			SellerID:                row.SellerID,
			Title:                   row.Title,
			Description:             row.Description,
			Type:                    engine.AuctionType(row.Type),
			StartingPrice:           row.StartingPrice,
			EndTime:                 row.EndTime,
			CreatedAt:               row.CreatedAt,
			DutchDecreasePercentage: row.DutchDecreasePercentage,
			DutchDecreaseInterval:   row.DutchDecreaseInterval,
			StandardShippingCost:    row.StandardShippingCost,
			ExpeditedShippingCost:   row.ExpeditedShippingCost,
			CurrentPrice:            row.CurrentPrice,
			CurrentBidderID:         row.CurrentBidderID,
			IsActive:                row.IsActive,
			Version:                 row.Version,
		},
		Bids: lo.Map(row.Bids, func(bid models.Bid, _ int) engine.Bid {
			return engine.Bid{
				ID:        bid.ID,
				ItemID:    bid.AuctionItemID,
				BidderID:  bid.BidderID,
				Amount:    bid.Amount,
				Timestamp: bid.PlacedAt,
			}
		}),
	}
	if row.Payment != nil {
		record.Receipt = &engine.Receipt{
			ID:                 row.Payment.ID,
			ItemID:             row.Payment.AuctionItemID,
			BuyerID:            row.Payment.BuyerID,
			ConfirmationNumber: row.Payment.ConfirmationNumber,
			WinningBid:         row.Payment.WinningBid,
			ShippingCost:       row.Payment.ShippingCost,
			Expedited:          row.Payment.Expedited,
			Total:              row.Payment.Total,
			PaymentMethod:      row.Payment.PaymentMethod,
			PaidAt:             row.Payment.PaidAt,
		}
	}
	return record
}
