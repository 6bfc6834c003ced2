package engine

import (
	"github.com/shopspring/decimal"
)

// CalcQuantity is the number of whole shares maxInvestment buys at
// targetPrice. Non-positive inputs give 0.
func CalcQuantity(maxInvestment, targetPrice int64) int64 {
	if maxInvestment <= 0 || targetPrice <= 0 {
		return 0
	}
	return maxInvestment / targetPrice
}

// ProfitRate is (price - buy) / buy, exact to 16 decimal places.
func ProfitRate(buy, price int64) decimal.Decimal {
	if buy <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(price - buy).Div(decimal.NewFromInt(buy))
}

// ShouldSell reports whether price has reached the target rate over buy.
func ShouldSell(buy, price int64, target decimal.Decimal) bool {
	if buy <= 0 || price <= 0 {
		return false
	}
	return ProfitRate(buy, price).GreaterThanOrEqual(target)
}

// formatRate renders a rate as a percentage, e.g. 0.0105 -> "1.05%".
func formatRate(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

// targetPrice is the lowest integer price that satisfies the target rate.
func targetPrice(buy int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(buy).Mul(decimal.NewFromInt(1).Add(rate)).Ceil().IntPart()
}
