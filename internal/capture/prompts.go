package capture

import (
	"fmt"
	"strings"

	"ledgerlens/internal/core"
)

func spreadsheetPrompt(filename string) string {
	return fmt.Sprintf(`Extract every expense from the attached spreadsheet %q.
Reply with JSON only: {"expenses":[{"amount":number,"category":string,"notes":string,"date":"YYYY-MM-DD"}]}.
Amounts are positive with two decimals. Category must be one of: %s.
Use the row description or merchant as notes. Skip header, subtotal and total rows.`,
		filename, strings.Join(core.Categories, ", "))
}

func imagePrompt() string {
	return fmt.Sprintf(`Read the attached receipt and extract the purchase.
Reply with JSON only: {"amount":number,"category":string,"notes":string,"date":"YYYY-MM-DD",
"confidence":{"amount":0-1,"category":0-1,"notes":0-1,"date":0-1},"overall_confidence":0-1}.
amount is the grand total paid. notes is the merchant name. Category must be one of: %s.`,
		strings.Join(core.Categories, ", "))
}
