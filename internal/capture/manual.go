package capture

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"ledgerlens/internal/core"
)

// AmountText is a decimal amount as typed by the user. It decodes from a
// JSON string ("12,34") or a JSON number (12.34).
type AmountText string

func (a *AmountText) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = AmountText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("amount must be a number or a string")
	}
	*a = AmountText(n.String())
	return nil
}

// Cents parses the amount, accepting comma or dot decimals.
func (a AmountText) Cents() (int64, error) {
	return core.ParseDecimalToCents(string(a))
}

// ManualInput is the manual entry form.
type ManualInput struct {
	Amount   AmountText `json:"amount"`
	Category string     `json:"category"`
	Notes    string     `json:"notes"`
	Date     string     `json:"date"`
}

var (
	positiveAmount = validation.By(func(v any) error {
		if _, err := v.(AmountText).Cents(); err != nil {
			return errors.New("must be a positive number")
		}
		return nil
	})
	notBlank = validation.By(func(v any) error {
		if strings.TrimSpace(v.(string)) == "" {
			return errors.New("cannot be blank")
		}
		return nil
	})
	optionalDate = validation.By(func(v any) error {
		s := strings.TrimSpace(v.(string))
		if s == "" {
			return nil
		}
		_, err := ParseDate(s)
		return err
	})
)

// Validate returns validation.Errors keyed by form field.
func (in ManualInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Amount, validation.Required.Error("amount is required"), positiveAmount),
		validation.Field(&in.Category, notBlank),
		validation.Field(&in.Date, optionalDate),
		validation.Field(&in.Notes, validation.RuneLength(0, core.MaxNotesLength)),
	)
}

// BuildManual validates the form and returns a new manual expense. An empty
// date means now.
func BuildManual(in ManualInput, now time.Time) (core.Expense, error) {
	if err := in.Validate(); err != nil {
		return core.Expense{}, err
	}

	cents, _ := in.Amount.Cents()
	date := now.UTC()
	if s := strings.TrimSpace(in.Date); s != "" {
		date, _ = ParseDate(s)
	}

	e := core.Expense{
		ID:       uuid.NewString(),
		Amount:   core.Money{Cents: cents},
		Category: core.NormalizeCategory(in.Category),
		Notes:    strings.TrimSpace(in.Notes),
		Date:     date,
		Source:   core.SourceManual,
	}
	return e, e.Validate()
}
