package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// 次方計算時保留的小數位數
const powPrecision int32 = 18

// CurrentPrice 計算商品在 instant 時的權威價格
//
//   - FORWARD: 儲存的目前價格(還沒有人出價時為起標價)，不受時間影響
//   - DUTCH: 依時間階梯式下降，同一個區間內價格固定，最低為 0.01；
//     已經被買下的商品回傳成交價，流標的商品停在結束時間的價格
func CurrentPrice(item AuctionItem, instant time.Time) decimal.Decimal {
	switch item.Type {
	case Dutch:
		if item.CurrentBidderID != nil {
			return item.CurrentPrice
		}
		if instant.After(item.EndTime) {
			instant = item.EndTime
		}
		return DutchPrice(item.StartingPrice, item.DutchDecreasePercentage, item.DutchDecreaseInterval, instant.Sub(item.CreatedAt))
	default:
		if item.CurrentPrice.IsZero() {
			return item.StartingPrice
		}
		return item.CurrentPrice
	}
}

// DutchPrice 荷式拍賣在經過 elapsed 之後的價格
//
// price = starting * (1 - percentage/100)^floor(elapsed/interval)，四捨五入到分，最低 0.01
func DutchPrice(starting, percentage decimal.Decimal, interval, elapsed time.Duration) decimal.Decimal {
	if interval <= 0 || elapsed < interval {
		return starting.Round(moneyPlaces)
	}
	ticks := int64(elapsed / interval)
	factor := decimal.NewFromInt(1).Sub(percentage.Div(hundred))
	price := starting.Mul(powTruncated(factor, ticks)).Round(moneyPlaces)
	if price.LessThan(minimumUnit) {
		return minimumUnit
	}
	return price
}

// MinimumBid 下一筆 FORWARD 出價最少需要的金額
func MinimumBid(item AuctionItem, instant time.Time) decimal.Decimal {
	return CurrentPrice(item, instant).Add(minimumUnit)
}

// powTruncated 以平方求冪計算 base^exp，每一步截斷到 powPrecision 位
func powTruncated(base decimal.Decimal, exp int64) decimal.Decimal {
	result := decimal.NewFromInt(1)
	for exp > 0 {
		if exp&1 == 1 {
			result = result.Mul(base).Truncate(powPrecision)
		}
		exp >>= 1
		if exp > 0 {
			base = base.Mul(base).Truncate(powPrecision)
		}
		if result.IsZero() || base.IsZero() && exp > 0 {
			return decimal.Zero
		}
	}
	return result
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && withinPlaces(amount, moneyPlaces)
}

// withinPlaces 小數位數不超過 places
func withinPlaces(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}
