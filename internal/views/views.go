// Package views computes the derived views of the ledger: the filtered list,
// totals, the per-category breakdown and the top category.
//
// Everything here is a pure function of the records passed in. Nothing is
// cached; callers pass ledger.All() on every read.
package views

import (
	"strings"

	"ledgerlens/internal/core"
)

// AllCategories is the category filter value that matches every record.
const AllCategories = "all"

type Filter struct {
	// Search is matched case-insensitively as a substring of notes or category.
	Search string
	// Category must equal the record's category exactly. Empty or "all" in any
	// case disables it.
	Category string
}

type View struct {
	Items       []core.Expense        `json:"items"`
	Total       core.Money            `json:"total"`
	ByCategory  []core.CategoryAmount `json:"by_category"`
	TopCategory string                `json:"top_category,omitempty"`
	Count       int                   `json:"count"`
}

// Matches reports whether e passes both the search and the category filter.
func (f Filter) Matches(e core.Expense) bool {
	if c := strings.TrimSpace(f.Category); c != "" && !strings.EqualFold(c, AllCategories) && e.Category != c {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Search))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Notes), q) ||
		strings.Contains(strings.ToLower(e.Category), q)
}

// Apply returns the matching records in ledger order.
func Apply(expenses []core.Expense, f Filter) []core.Expense {
	out := make([]core.Expense, 0, len(expenses))
	for _, e := range expenses {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Total sums the amounts of expenses.
func Total(expenses []core.Expense) core.Money {
	var total core.Money
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total
}

// ByCategory sums amounts per category, ordered by first encounter.
func ByCategory(expenses []core.Expense) []core.CategoryAmount {
	index := make(map[string]int)
	var out []core.CategoryAmount
	for _, e := range expenses {
		i, ok := index[e.Category]
		if !ok {
			i = len(out)
			index[e.Category] = i
			out = append(out, core.CategoryAmount{Name: e.Category})
		}
		out[i].Amount = out[i].Amount.Add(e.Amount)
	}
	return out
}

// TopCategory returns the category with the highest sum. Ties go to the
// category encountered first. Empty input yields "".
func TopCategory(totals []core.CategoryAmount) string {
	top := ""
	var max int64
	for _, c := range totals {
		if top == "" || c.Amount.Cents > max {
			top, max = c.Name, c.Amount.Cents
		}
	}
	return top
}

// Compute builds the full view for the given filter.
func Compute(expenses []core.Expense, f Filter) View {
	items := Apply(expenses, f)
	totals := ByCategory(items)
	return View{
		Items:       items,
		Total:       Total(items),
		ByCategory:  totals,
		TopCategory: TopCategory(totals),
		Count:       len(items),
	}
}
