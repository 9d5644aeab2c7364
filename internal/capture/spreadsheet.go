package capture

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"ledgerlens/internal/agent"
	"ledgerlens/internal/cache"
	"ledgerlens/internal/core"
	"ledgerlens/internal/log"
)

var spreadsheetTypes = map[string]string{
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
}

// Extraction is what an upload adapter hands back for preview.
type Extraction struct {
	Candidates []Candidate
	// Degraded is set when the reply was unusable and a placeholder stands in.
	Degraded bool
}

type SpreadsheetConfig struct {
	AgentID  string
	MaxBytes int64
	// RejectLegacyExcel refuses .xls files for agents that cannot read them.
	RejectLegacyExcel bool
}

// ErrLegacyWorkbook rejects .xls files the configured agent cannot read.
var ErrLegacyWorkbook = fmt.Errorf("%w: .xls workbooks are not supported by this agent, save as .xlsx or .csv", ErrUnsupportedFile)

type Spreadsheet struct {
	up    uploader
	cfg   SpreadsheetConfig
	guard guard
	now   func() time.Time
}

func NewSpreadsheet(client agent.Client, assets cache.Cache[[]string], cfg SpreadsheetConfig, logger *log.Logger) *Spreadsheet {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxUploadBytes
	}
	return &Spreadsheet{
		up: uploader{
			client:    client,
			assets:    assets,
			namespace: string(core.SourceSpreadsheet),
			logger:    logger.WithComponent(log.ComponentCapture),
		},
		cfg:   cfg,
		guard: newGuard(),
		now:   time.Now,
	}
}

// ValidateSpreadsheet runs the checks that need no network: extension,
// size and, for .xlsx, that the workbook opens and holds at least one row.
func ValidateSpreadsheet(filename string, data []byte, maxBytes int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := spreadsheetTypes[ext]; !ok {
		return fileError(fmt.Errorf("%w: expected .csv, .xlsx or .xls", ErrUnsupportedFile))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fileError(ErrEmptyFile)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return fileError(fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, maxBytes))
	}
	if ext == ".xlsx" {
		if err := checkWorkbook(data); err != nil {
			return fileError(err)
		}
	}
	return nil
}

func checkWorkbook(data []byte) error {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("%w: sheet %s: %v", ErrUnreadableFile, sheet, err)
		}
		if len(rows) > 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: workbook has no rows", ErrEmptyFile)
}

// Extract validates the file, uploads it and asks the agent to parse it.
// The ledger is never touched here.
func (s *Spreadsheet) Extract(ctx context.Context, filename string, data []byte) (Extraction, error) {
	release, err := s.guard.acquire()
	if err != nil {
		return Extraction{}, err
	}
	defer release()

	if err := ValidateSpreadsheet(filename, data, s.cfg.MaxBytes); err != nil {
		return Extraction{}, err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".xls" && s.cfg.RejectLegacyExcel {
		return Extraction{}, fileError(ErrLegacyWorkbook)
	}

	contentType := spreadsheetTypes[ext]
	resp, err := s.up.ask(ctx, filename, contentType, data, agent.Request{
		Message: spreadsheetPrompt(filename),
		AgentID: s.cfg.AgentID,
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("%s spreadsheet: %w", stage(err, "parse"), err)
	}

	now := s.now()
	candidates := ParseSpreadsheetReply(resp, now)
	if len(candidates) == 0 {
		s.up.logger.WarnContext(ctx, "Spreadsheet reply not recognized, using placeholder",
			log.FieldFilename, filename,
			log.FieldOperation, log.OpParse)
		return Extraction{Candidates: []Candidate{placeholder(core.SourceSpreadsheet, filename, now)}, Degraded: true}, nil
	}

	s.up.logger.InfoContext(ctx, "Spreadsheet parsed",
		log.FieldFilename, filename,
		log.FieldOperation, log.OpParse,
		log.FieldCandidates, len(candidates))
	return Extraction{Candidates: candidates}, nil
}

// placeholder is the single stand-in candidate of degraded mode. Its amount
// is zero, so it must be edited or dropped before the preview can commit.
func placeholder(source core.Source, filename string, now time.Time) Candidate {
	return Candidate{
		Category:    core.CategoryOther,
		Notes:       truncateNotes("Imported from " + filename),
		Date:        now.UTC(),
		Source:      source,
		Placeholder: true,
	}
}
