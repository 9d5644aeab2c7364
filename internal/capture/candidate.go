package capture

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"ledgerlens/internal/core"
)

// Field names used in per-field confidence maps and edit errors.
const (
	FieldAmount   = "amount"
	FieldCategory = "category"
	FieldNotes    = "notes"
	FieldDate     = "date"
)

// Candidate is an extracted, not yet committed expense.
type Candidate struct {
	Amount   core.Money  `json:"amount"`
	Category string      `json:"category"`
	Notes    string      `json:"notes,omitempty"`
	Date     time.Time   `json:"date"`
	Source   core.Source `json:"source"`
	// Confidence is the overall percentage, image captures only.
	Confidence      *float64           `json:"confidence,omitempty"`
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`
	// Placeholder marks the degraded-mode stand-in for an unreadable reply.
	Placeholder bool `json:"placeholder,omitempty"`
}

// Validate checks the candidate can be committed.
func (c Candidate) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Amount, validation.By(func(v any) error {
			if v.(core.Money).Cents <= 0 {
				return errors.New("must be a positive number")
			}
			return nil
		})),
		validation.Field(&c.Category, notBlank),
		validation.Field(&c.Date, validation.By(func(v any) error {
			if v.(time.Time).IsZero() {
				return errors.New("cannot be blank")
			}
			return nil
		})),
		validation.Field(&c.Notes, validation.RuneLength(0, core.MaxNotesLength)),
	)
}

// Expense converts a validated candidate into a ledger record.
func (c Candidate) Expense(id string) core.Expense {
	e := core.Expense{
		ID:       id,
		Amount:   c.Amount,
		Category: c.Category,
		Notes:    c.Notes,
		Date:     c.Date,
		Source:   c.Source,
	}
	if c.Source == core.SourceImage && c.Confidence != nil {
		v := *c.Confidence
		e.Confidence = &v
	}
	return e
}

func (c Candidate) clone() Candidate {
	if c.Confidence != nil {
		v := *c.Confidence
		c.Confidence = &v
	}
	if c.FieldConfidence != nil {
		m := make(map[string]float64, len(c.FieldConfidence))
		for k, v := range c.FieldConfidence {
			m[k] = v
		}
		c.FieldConfidence = m
	}
	return c
}

// Edit holds user corrections to a candidate. Nil fields are left alone.
type Edit struct {
	Amount   *AmountText `json:"amount,omitempty"`
	Category *string     `json:"category,omitempty"`
	Notes    *string     `json:"notes,omitempty"`
	Date     *string     `json:"date,omitempty"`
}

// Apply merges e into c field by field. Edited fields are user-confirmed,
// so on image candidates their confidence becomes 100 and the overall
// confidence is recomputed as the mean.
func (c Candidate) Apply(e Edit) (Candidate, error) {
	out := c.clone()
	errs := validation.Errors{}
	var touched []string

	if e.Amount != nil {
		cents, err := e.Amount.Cents()
		if err != nil {
			errs[FieldAmount] = errors.New("must be a positive number")
		} else {
			out.Amount = core.Money{Cents: cents}
			touched = append(touched, FieldAmount)
		}
	}
	if e.Category != nil {
		if strings.TrimSpace(*e.Category) == "" {
			errs[FieldCategory] = errors.New("cannot be blank")
		} else {
			out.Category = core.NormalizeCategory(*e.Category)
			touched = append(touched, FieldCategory)
		}
	}
	if e.Notes != nil {
		notes := strings.TrimSpace(*e.Notes)
		if utf8.RuneCountInString(notes) > core.MaxNotesLength {
			errs[FieldNotes] = core.ErrNotesTooLong
		} else {
			out.Notes = notes
			touched = append(touched, FieldNotes)
		}
	}
	if e.Date != nil {
		d, err := ParseDate(*e.Date)
		if err != nil {
			errs[FieldDate] = err
		} else {
			out.Date = d
			touched = append(touched, FieldDate)
		}
	}
	if len(errs) > 0 {
		return c, errs
	}

	if out.Source == core.SourceImage && len(touched) > 0 {
		if out.FieldConfidence == nil {
			out.FieldConfidence = make(map[string]float64)
		}
		for _, f := range touched {
			out.FieldConfidence[f] = 100
		}
		mean := meanConfidence(out.FieldConfidence)
		out.Confidence = &mean
	}
	if out.Placeholder && out.Amount.Cents > 0 {
		out.Placeholder = false
	}
	return out, nil
}

func meanConfidence(m map[string]float64) float64 {
	if len(m) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m {
		sum += v
	}
	return roundPct(sum / float64(len(m)))
}
