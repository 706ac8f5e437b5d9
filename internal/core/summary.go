package core

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string
	Amount Money
}

// SumCredits totals a list of credits.
func SumCredits(items []Credit) Money {
	var total int64
	for _, c := range items {
		total += c.Amount.Cents
	}
	return Money{Cents: total}
}

// SumSpendings totals a list of spendings.
func SumSpendings(items []Spending) Money {
	var total int64
	for _, s := range items {
		total += s.Amount.Cents
	}
	return Money{Cents: total}
}

// SpendingByCategory aggregates spendings per category, in category order.
// Spendings whose category is unknown are reported under "?".
func SpendingByCategory(cats []Category, items []Spending) []CategoryAmount {
	sums := make(map[int64]int64, len(cats))
	for _, s := range items {
		sums[s.CategoryID] += s.Amount.Cents
	}
	out := make([]CategoryAmount, 0, len(cats)+1)
	known := make(map[int64]struct{}, len(cats))
	for _, c := range cats {
		known[c.ID] = struct{}{}
		out = append(out, CategoryAmount{Name: c.Name, Amount: Money{Cents: sums[c.ID]}})
	}
	var orphan int64
	for id, v := range sums {
		if _, ok := known[id]; !ok {
			orphan += v
		}
	}
	if orphan != 0 {
		out = append(out, CategoryAmount{Name: "?", Amount: Money{Cents: orphan}})
	}
	return out
}
