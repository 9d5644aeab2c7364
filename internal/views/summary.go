package views

import (
	"fmt"
	"strings"

	"ledgerlens/internal/core"
)

// RecentEntries is how many individual records Summarize lists.
const RecentEntries = 20

// Summarize renders the ledger as plain text for the assistant prompt.
func Summarize(expenses []core.Expense) string {
	var b strings.Builder
	if len(expenses) == 0 {
		b.WriteString("The user has not recorded any expenses yet.\n")
		return b.String()
	}

	totals := ByCategory(expenses)
	fmt.Fprintf(&b, "Total expenses recorded: %d\n", len(expenses))
	fmt.Fprintf(&b, "Total amount spent: %s\n", Total(expenses))

	first, last := expenses[0].Date, expenses[0].Date
	for _, e := range expenses {
		if e.Date.Before(first) {
			first = e.Date
		}
		if e.Date.After(last) {
			last = e.Date
		}
	}
	fmt.Fprintf(&b, "Date range: %s to %s\n", first.Format("2006-01-02"), last.Format("2006-01-02"))
	fmt.Fprintf(&b, "Top category: %s\n", TopCategory(totals))

	b.WriteString("Spending by category:\n")
	for _, c := range totals {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Amount)
	}

	b.WriteString("Recent expenses:\n")
	for i, e := range expenses {
		if i == RecentEntries {
			fmt.Fprintf(&b, "... and %d more\n", len(expenses)-RecentEntries)
			break
		}
		fmt.Fprintf(&b, "- %s | %s | %s", e.Date.Format("2006-01-02"), e.Category, e.Amount)
		if e.Notes != "" {
			fmt.Fprintf(&b, " | %s", e.Notes)
		}
		b.WriteString("\n")
	}
	return b.String()
}
