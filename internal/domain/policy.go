package domain

// Price-bracket bid increments. Each bracket is an exclusive upper bound on
// the current price paired with the increment applied inside it.
var priceBrackets = []struct {
	upperBound int64
	increment  int64
}{
	{10_000, 500},
	{50_000, 1_000},
	{100_000, 3_000},
	{500_000, 5_000},
	{1_000_000, 10_000},
}

// Increment for prices at or above the last bracket bound.
const topBracketIncrement = 30_000

// A surcharge of 50% of the base increment is added for every 3 extensions,
// so hotly contested auctions climb faster instead of extending forever.
const (
	surchargeInterval = 3
	surchargeRate     = 0.5
)

// BaseIncrementFor returns the bid increment for the bracket containing price.
func BaseIncrementFor(price int64) int64 {
	for _, b := range priceBrackets {
		if price < b.upperBound {
			return b.increment
		}
	}
	return topBracketIncrement
}

// AdjustedIncrement applies the extension surcharge to a base increment.
func AdjustedIncrement(base int64, extensionCount int) int64 {
	steps := extensionCount / surchargeInterval
	if steps == 0 {
		return base
	}
	surcharge := float64(base) * surchargeRate * float64(steps)
	return base + int64(surcharge)
}
