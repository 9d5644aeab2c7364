// Package services orchestrates ledger mutations, user notifications and
// event publishing. LedgerService is the only writer of the ledger.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"ledgerlens/internal/agent"
	"ledgerlens/internal/cache"
	"ledgerlens/internal/capture"
	"ledgerlens/internal/core"
	"ledgerlens/internal/events"
	"ledgerlens/internal/ledger"
	"ledgerlens/internal/log"
	"ledgerlens/internal/views"
)

// Notifier is the part of the notification center the service uses.
type Notifier interface {
	Push(kind core.NotificationKind, message string) core.Notification
}

// Extractor is implemented by the spreadsheet and image adapters.
type Extractor interface {
	Extract(ctx context.Context, filename, contentType string, data []byte) (capture.Extraction, error)
}

// SpreadsheetExtractor adapts capture.Spreadsheet, which ignores the
// content type, to Extractor.
type SpreadsheetExtractor struct{ *capture.Spreadsheet }

func (s SpreadsheetExtractor) Extract(ctx context.Context, filename, _ string, data []byte) (capture.Extraction, error) {
	return s.Spreadsheet.Extract(ctx, filename, data)
}

type LedgerService struct {
	ledger      *ledger.Ledger
	previews    *capture.Previews
	spreadsheet Extractor
	image       Extractor
	notify      Notifier
	pub         events.Publisher
	logger      *log.Logger
	structured  *log.StructuredLogger
	now         func() time.Time
}

type Deps struct {
	Ledger      *ledger.Ledger
	Previews    *capture.Previews
	Spreadsheet Extractor
	Image       Extractor
	Notify      Notifier
	Publisher   events.Publisher
	Logger      *log.Logger
}

func NewLedgerService(d Deps) *LedgerService {
	if d.Publisher == nil {
		d.Publisher = events.Nop{}
	}
	logger := d.Logger.WithComponent(log.ComponentLedger)
	s := &LedgerService{
		ledger:      d.Ledger,
		previews:    d.Previews,
		spreadsheet: d.Spreadsheet,
		image:       d.Image,
		notify:      d.Notify,
		pub:         d.Publisher,
		logger:      logger,
		structured:  log.NewStructuredLogger(logger),
		now:         time.Now,
	}
	d.Previews.OnDiscard(s.previewDiscarded)
	return s
}

// previewDiscarded reports an import the user never confirmed or cancelled.
func (s *LedgerService) previewDiscarded(p capture.Preview, reason cache.EvictReason) {
	ctx := context.Background()
	s.logger.InfoContext(ctx, "Import discarded",
		log.FieldPreviewID, p.ID,
		log.FieldSource, p.Source,
		log.FieldCandidates, len(p.Candidates),
		"reason", reason.String())
	s.pub.Publish(ctx, events.New(events.ImportDiscarded, map[string]any{
		"preview_id": p.ID,
		"filename":   p.Filename,
		"reason":     reason.String(),
	}))
	s.notify.Push(core.NotificationInfo, fmt.Sprintf("The import of %s was discarded before it was saved.", p.Filename))
}

// View computes the derived view of the current ledger.
func (s *LedgerService) View(f views.Filter) views.View {
	return views.Compute(s.ledger.All(), f)
}

// Expenses returns the current ledger, newest first.
func (s *LedgerService) Expenses() []core.Expense {
	return s.ledger.All()
}

// AddManual validates the form and appends the expense at the head of the
// ledger. Validation errors are returned as validation.Errors and raise no
// banner.
func (s *LedgerService) AddManual(ctx context.Context, in capture.ManualInput) (core.Expense, error) {
	e, err := capture.BuildManual(in, s.now())
	if err != nil {
		return core.Expense{}, err
	}
	if err := s.ledger.Append(e); err != nil {
		s.notify.Push(core.NotificationError, "Could not add the expense.")
		return core.Expense{}, fmt.Errorf("append expense: %w", err)
	}

	s.structured.LogExpenseCreated(ctx, e.ID, e.Amount.Cents, e.Category, string(e.Source))
	s.pub.Publish(ctx, events.New(events.ExpenseCreated, e))
	s.notify.Push(core.NotificationSuccess, fmt.Sprintf("Added %s expense of %s.", e.Category, e.Amount))
	return e, nil
}

// DeleteExpense removes exactly the record with id.
func (s *LedgerService) DeleteExpense(ctx context.Context, id string) error {
	e, ok := s.ledger.Remove(id)
	if !ok {
		return fmt.Errorf("expense %s: %w", id, core.ErrNotFound)
	}

	s.logger.InfoContext(ctx, "Expense deleted",
		log.NewFields().WithExpense(e.ID, e.Amount.Cents, e.Category, string(e.Source)).WithOperation(log.OpDelete).ToSlice()...)
	s.pub.Publish(ctx, events.New(events.ExpenseDeleted, e))
	s.notify.Push(core.NotificationSuccess, "Expense deleted.")
	return nil
}

// ImportSpreadsheet runs the spreadsheet adapter and stores the result as a
// preview. Nothing reaches the ledger until ConfirmPreview.
func (s *LedgerService) ImportSpreadsheet(ctx context.Context, filename string, data []byte) (capture.Preview, error) {
	return s.importFile(ctx, core.SourceSpreadsheet, s.spreadsheet, filename, "", data)
}

// ImportImage runs the receipt adapter and stores the single candidate as a
// preview.
func (s *LedgerService) ImportImage(ctx context.Context, filename, contentType string, data []byte) (capture.Preview, error) {
	return s.importFile(ctx, core.SourceImage, s.image, filename, contentType, data)
}

func (s *LedgerService) importFile(ctx context.Context, source core.Source, x Extractor, filename, contentType string, data []byte) (capture.Preview, error) {
	ext, err := x.Extract(ctx, filename, contentType, data)
	if err != nil {
		var verrs validation.Errors
		if errors.As(err, &verrs) || errors.Is(err, capture.ErrBusy) {
			return capture.Preview{}, err
		}
		s.structured.LogError(ctx, "Import failed", err, errorType(err), log.OpImport,
			log.LogFields{log.FieldSource: source, log.FieldFilename: filename})
		s.notify.Push(core.NotificationError, fmt.Sprintf("Could not process %s. Please try again.", filename))
		return capture.Preview{}, err
	}

	p := s.previews.Create(source, filename, ext)
	s.logger.InfoContext(ctx, "Import ready for review",
		log.FieldSource, source,
		log.FieldPreviewID, p.ID,
		log.FieldCandidates, len(p.Candidates),
		log.FieldOperation, log.OpImport)

	switch {
	case ext.Degraded:
		s.notify.Push(core.NotificationInfo, fmt.Sprintf("Could not recognize the contents of %s. Please review the entry before saving.", filename))
	case source == core.SourceImage:
		s.notify.Push(core.NotificationInfo, "Receipt read. Review the details before saving.")
	default:
		s.notify.Push(core.NotificationInfo, fmt.Sprintf("Found %d expenses in %s. Review them before saving.", len(p.Candidates), filename))
	}
	return p, nil
}

func (s *LedgerService) Preview(id string) (capture.Preview, error) {
	return s.previews.Get(id)
}

func (s *LedgerService) EditCandidate(id string, index int, e capture.Edit) (capture.Preview, error) {
	return s.previews.Edit(id, index, e)
}

func (s *LedgerService) DropCandidate(id string, index int) (capture.Preview, error) {
	return s.previews.Drop(id, index)
}

// CancelPreview discards a preview without touching the ledger.
func (s *LedgerService) CancelPreview(ctx context.Context, id string) error {
	if err := s.previews.Cancel(id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Import cancelled", log.FieldPreviewID, id, log.FieldOperation, log.OpCancel)
	s.notify.Push(core.NotificationInfo, "Import cancelled.")
	return nil
}

// ConfirmPreview commits every candidate atomically. If any candidate is
// invalid nothing is committed and the preview stays open. A preview with
// no candidates is closed without changing the ledger.
func (s *LedgerService) ConfirmPreview(ctx context.Context, id string) ([]core.Expense, error) {
	var committed []core.Expense
	err := s.previews.Commit(id, func(p capture.Preview) error {
		es, err := p.Expenses(uuid.NewString)
		if err != nil {
			return err
		}
		if len(es) == 0 {
			return nil
		}
		if err := s.ledger.AppendAll(es); err != nil {
			return fmt.Errorf("append imported expenses: %w", err)
		}
		committed = es
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(committed) == 0 {
		s.notify.Push(core.NotificationInfo, "Nothing to import.")
		return []core.Expense{}, nil
	}

	s.structured.LogImportConfirmed(ctx, id, string(committed[0].Source), len(committed), views.Total(committed).Cents)
	s.pub.Publish(ctx, events.New(events.ExpensesImported, committed))
	if len(committed) == 1 {
		s.notify.Push(core.NotificationSuccess, "Imported 1 expense.")
	} else {
		s.notify.Push(core.NotificationSuccess, fmt.Sprintf("Imported %d expenses.", len(committed)))
	}
	return committed, nil
}

// errorType classifies an import failure for the logs.
func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return log.ErrorTypeTimeout
	case agent.IsAgentError(err):
		return log.ErrorTypeAgent
	default:
		return log.ErrorTypeInternal
	}
}
