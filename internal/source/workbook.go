package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Sheet names accepted for each table, tried in order.
var (
	utilitySheets  = []string{"Utilities", "Utenze", "Meters"}
	registerSheets = []string{"Registers", "Registri"}
)

// File names of the one-table-per-file layout, matched case-insensitively.
var (
	utilityWorkbooks  = []string{"Utenze.xlsx", "Utilities.xlsx"}
	registerWorkbooks = []string{"Registri.xlsx", "Registers.xlsx"}
)

// Workbook is an .xlsx file with a utilities sheet and a registers sheet.
// The first row of each sheet is the header.
type Workbook struct {
	path string
}

// NewWorkbook returns a source reading the workbook at path.
func NewWorkbook(path string) *Workbook {
	return &Workbook{path: path}
}

func (w *Workbook) ID() string {
	base := filepath.Base(w.path)
	return string(KindWorkbook) + ":" + strings.TrimSuffix(base, filepath.Ext(base))
}

func (w *Workbook) Kind() Kind       { return KindWorkbook }
func (w *Workbook) Location() string { return w.path }

// UtilityRows reads the utilities sheet.
func (w *Workbook) UtilityRows(ctx context.Context) ([]Row, error) {
	return readSheet(ctx, w.path, namedSheet(utilitySheets))
}

// RegisterRows reads the registers sheet.
func (w *Workbook) RegisterRows(ctx context.Context) ([]Row, error) {
	return readSheet(ctx, w.path, namedSheet(registerSheets))
}

// WorkbookPair is a directory holding one workbook per table, such as
// Utenze.xlsx next to registri.xlsx. Each table is the first sheet of its file.
type WorkbookPair struct {
	dir       string
	utilities string
	registers string
}

// FindWorkbookPair returns the pair source in dir when both workbooks exist.
func FindWorkbookPair(dir string) (*WorkbookPair, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}
	pick := func(names []string) string {
		for _, want := range names {
			for _, e := range entries {
				if !e.IsDir() && strings.EqualFold(e.Name(), want) {
					return filepath.Join(dir, e.Name())
				}
			}
		}
		return ""
	}

	p := &WorkbookPair{dir: dir, utilities: pick(utilityWorkbooks), registers: pick(registerWorkbooks)}
	if p.utilities == "" || p.registers == "" {
		return nil, false
	}
	return p, true
}

func (p *WorkbookPair) ID() string       { return string(KindWorkbookPair) + ":" + filepath.Base(p.dir) }
func (p *WorkbookPair) Kind() Kind       { return KindWorkbookPair }
func (p *WorkbookPair) Location() string { return p.dir }

// Files returns the utilities and registers workbook paths.
func (p *WorkbookPair) Files() (utilities, registers string) {
	return p.utilities, p.registers
}

// UtilityRows reads the first sheet of the utilities workbook.
func (p *WorkbookPair) UtilityRows(ctx context.Context) ([]Row, error) {
	return readSheet(ctx, p.utilities, firstSheet)
}

// RegisterRows reads the first sheet of the registers workbook.
func (p *WorkbookPair) RegisterRows(ctx context.Context) ([]Row, error) {
	return readSheet(ctx, p.registers, firstSheet)
}

// sheetPicker chooses the sheet holding a table, or reports why none fits.
type sheetPicker func(path string, sheets []string) (string, error)

func namedSheet(candidates []string) sheetPicker {
	return func(path string, sheets []string) (string, error) {
		for _, want := range candidates {
			for _, s := range sheets {
				if strings.EqualFold(strings.TrimSpace(s), want) {
					return s, nil
				}
			}
		}
		return "", fmt.Errorf("%w: %s has none of %s", ErrMissingTable, path, strings.Join(candidates, ", "))
	}
}

func firstSheet(path string, sheets []string) (string, error) {
	if len(sheets) == 0 {
		return "", fmt.Errorf("%w: %s has no sheets", ErrMissingTable, path)
	}
	return sheets[0], nil
}

func readSheet(ctx context.Context, path string, pick sheetPicker) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingTable, path)
		}
		return nil, fmt.Errorf("opening workbook %s: %w", path, err)
	}
	defer f.Close()

	sheet, err := pick(path, f.GetSheetList())
	if err != nil {
		return nil, err
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s of %s: %w", sheet, path, err)
	}
	return rowsFromRecords(records), nil
}
