package core

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	SourceManual      Source = "manual"
	SourceSpreadsheet Source = "spreadsheet"
	SourceImage       Source = "image"
)

const (
	NotificationSuccess NotificationKind = "success"
	NotificationError   NotificationKind = "error"
	NotificationInfo    NotificationKind = "info"
)

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MaxNotesLength bounds the free-text notes of an expense.
const MaxNotesLength = 500

type (
	// Source is the capture modality an expense came from.
	Source string

	NotificationKind string

	Role string

	Expense struct {
		ID       string    `json:"id"`
		Amount   Money     `json:"amount"`
		Category string    `json:"category"`
		Notes    string    `json:"notes,omitempty"`
		Date     time.Time `json:"date"`
		Source   Source    `json:"source"`
		// Confidence is a percentage in [0,100], only set for image captures.
		Confidence *float64 `json:"confidence,omitempty"`
	}

	Notification struct {
		ID        string           `json:"id"`
		Kind      NotificationKind `json:"kind"`
		Message   string           `json:"message"`
		CreatedAt time.Time        `json:"created_at"`
		ExpiresAt time.Time        `json:"expires_at"`
	}

	ChatMessage struct {
		Role      Role      `json:"role"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}
)

var (
	ErrEmptyID           = errors.New("empty id")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrEmptyCategory     = errors.New("empty category")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidSource     = errors.New("invalid source")
	ErrNotesTooLong      = errors.New("notes too long (max 500 characters)")
	ErrInvalidConfidence = errors.New("invalid confidence")
	ErrNotFound          = errors.New("not found")
)

func (s Source) IsValid() bool {
	switch s {
	case SourceManual, SourceSpreadsheet, SourceImage:
		return true
	default:
		return false
	}
}

func (k NotificationKind) IsValid() bool {
	switch k {
	case NotificationSuccess, NotificationError, NotificationInfo:
		return true
	default:
		return false
	}
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrEmptyID
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if e.Date.IsZero() {
		return ErrInvalidDate
	}
	if utf8.RuneCountInString(e.Notes) > MaxNotesLength {
		return ErrNotesTooLong
	}
	if !e.Source.IsValid() {
		return ErrInvalidSource
	}
	if e.Confidence != nil {
		if e.Source != SourceImage {
			return ErrInvalidConfidence
		}
		if *e.Confidence < 0 || *e.Confidence > 100 {
			return ErrInvalidConfidence
		}
	}
	return nil
}
