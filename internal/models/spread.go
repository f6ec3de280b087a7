package models

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// PctChange returns (to-from)/from*100. Zero when from is not positive.
//
// Intra-exchange spread is PctChange(bestBid, bestAsk); buying on X and
// selling on Y yields PctChange(bestAsk(X), bestBid(Y)).
func PctChange(from, to float64) float64 {
	if from <= 0 {
		return 0
	}
	f := decimal.NewFromFloat(from)
	t := decimal.NewFromFloat(to)
	return t.Sub(f).Div(f).Mul(hundred).InexactFloat64()
}
