package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/yussieik/pazpaz-sub021/internal/events"
)

// ExcelWriter writes tabular data to a spreadsheet.
type ExcelWriter interface {
	// AddSheet adds a new sheet and makes it current.
	AddSheet(name string) error

	// WriteHeader writes bold column headers to the current sheet.
	WriteHeader(columns []string) error

	// WriteRow writes a data row to the current sheet.
	WriteRow(row []interface{}) error

	// Save writes the workbook to w.
	Save(w io.Writer) error

	// SaveToFile writes the workbook to disk.
	SaveToFile(path string) error
}

// ExcelizeWriter implements ExcelWriter using excelize.
type ExcelizeWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

// NewExcelizeWriter creates an empty workbook.
func NewExcelizeWriter() ExcelWriter {
	return &ExcelizeWriter{file: excelize.NewFile()}
}

// AddSheet adds a new sheet with the given name.
func (w *ExcelizeWriter) AddSheet(name string) error {
	// Excel caps sheet names at 31 chars
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		// rename the default sheet
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet: %w", err)
		}
	} else {
		if _, err := w.file.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes bold column headers to the current sheet.
func (w *ExcelizeWriter) WriteHeader(columns []string) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &columns); err != nil {
		return err
	}

	if style, err := w.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	}); err == nil {
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow)
		_ = w.file.SetCellStyle(w.currentSheet, cell, endCell, style)
	}

	w.currentRow++
	return nil
}

// WriteRow writes a data row to the current sheet.
func (w *ExcelizeWriter) WriteRow(row []interface{}) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return err
	}

	w.currentRow++
	return nil
}

// Save writes the workbook to wr.
func (w *ExcelizeWriter) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

// SaveToFile writes the workbook to disk.
func (w *ExcelizeWriter) SaveToFile(path string) error {
	return w.file.SaveAs(path)
}

// Close releases resources.
func (w *ExcelizeWriter) Close() error {
	return w.file.Close()
}

var exportColumns = []string{
	"id", "occurred_at", "event_type", "workspace_id", "user_id",
	"trigger", "changed_fields", "detail", "request_id",
}

// canonical sheet order; unknown event types follow in first-seen order
var exportOrder = []string{
	events.TypeLoaded,
	events.TypeLoadFailed,
	events.TypeEdited,
	events.TypeSaved,
	events.TypeSaveFailed,
}

// Exporter renders the journal as an xlsx workbook, one sheet per event
// type.
type Exporter struct {
	store  *Store
	writer func() ExcelWriter // factory, one workbook per export
	logger zerolog.Logger
}

// NewExporter creates an exporter over store. A nil writerFactory defaults
// to excelize.
func NewExporter(store *Store, writerFactory func() ExcelWriter, logger zerolog.Logger) *Exporter {
	if writerFactory == nil {
		writerFactory = NewExcelizeWriter
	}
	return &Exporter{store: store, writer: writerFactory, logger: logger}
}

// Export writes entries matching the filter into an in-memory workbook.
func (e *Exporter) Export(ctx context.Context, filter Filter) (*bytes.Buffer, error) {
	excel, err := e.build(ctx, filter)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := excel.Save(&buf); err != nil {
		return nil, fmt.Errorf("save workbook: %w", err)
	}
	return &buf, nil
}

// ExportToFile writes the workbook at path.
func (e *Exporter) ExportToFile(ctx context.Context, path string, filter Filter) error {
	excel, err := e.build(ctx, filter)
	if err != nil {
		return err
	}
	if err := excel.SaveToFile(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	e.logger.Info().Str("path", path).Msg("audit export written")
	return nil
}

func (e *Exporter) build(ctx context.Context, filter Filter) (ExcelWriter, error) {
	entries, err := e.store.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]Entry)
	order := append([]string(nil), exportOrder...)
	for _, entry := range entries {
		if _, seen := grouped[entry.EventType]; !seen && !contains(order, entry.EventType) {
			order = append(order, entry.EventType)
		}
		grouped[entry.EventType] = append(grouped[entry.EventType], entry)
	}

	excel := e.writer()
	wrote := false
	for _, eventType := range order {
		group := grouped[eventType]
		if len(group) == 0 {
			continue
		}
		if err := excel.AddSheet(sheetName(eventType)); err != nil {
			return nil, err
		}
		if err := excel.WriteHeader(exportColumns); err != nil {
			return nil, err
		}
		// List returns newest first; sheets read top-down oldest first
		for i := len(group) - 1; i >= 0; i-- {
			if err := excel.WriteRow(entryRow(group[i])); err != nil {
				return nil, err
			}
		}
		wrote = true
		e.logger.Debug().Str("sheet", sheetName(eventType)).Int("rows", len(group)).Msg("exported audit sheet")
	}

	if !wrote {
		// header-only workbook so an empty range still yields a valid file
		if err := excel.AddSheet("settings_audit"); err != nil {
			return nil, err
		}
		if err := excel.WriteHeader(exportColumns); err != nil {
			return nil, err
		}
	}
	return excel, nil
}

func entryRow(e Entry) []interface{} {
	return []interface{}{
		e.ID,
		e.OccurredAt.Format(time.RFC3339),
		e.EventType,
		e.WorkspaceID,
		e.UserID,
		e.Trigger,
		strings.Join(e.ChangedFields, ","),
		e.Detail,
		e.RequestID,
	}
}

func sheetName(eventType string) string {
	return strings.TrimPrefix(eventType, "settings.")
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Filename names a monthly export, e.g. "settings-audit-2026-08.xlsx".
func Filename(t time.Time) string {
	return fmt.Sprintf("settings-audit-%s.xlsx", t.Format("2006-01"))
}
