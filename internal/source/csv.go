package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// CSV file names expected inside a CSV source directory.
const (
	UtilitiesCSV = "utilities.csv"
	RegistersCSV = "registers.csv"
)

// CSVDir is a directory holding utilities.csv and registers.csv.
type CSVDir struct {
	dir string
}

// NewCSVDir returns a source reading the two CSV files in dir.
func NewCSVDir(dir string) *CSVDir {
	return &CSVDir{dir: dir}
}

// IsCSVDir reports whether dir contains both CSV tables.
func IsCSVDir(dir string) bool {
	for _, name := range []string{UtilitiesCSV, RegistersCSV} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

func (c *CSVDir) ID() string       { return string(KindCSV) + ":" + filepath.Base(c.dir) }
func (c *CSVDir) Kind() Kind       { return KindCSV }
func (c *CSVDir) Location() string { return c.dir }

// UtilityRows reads utilities.csv.
func (c *CSVDir) UtilityRows(ctx context.Context) ([]Row, error) {
	return c.read(ctx, UtilitiesCSV)
}

// RegisterRows reads registers.csv.
func (c *CSVDir) RegisterRows(ctx context.Context) ([]Row, error) {
	return c.read(ctx, RegistersCSV)
}

func (c *CSVDir) read(ctx context.Context, name string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(c.dir, name)
	f, err := os.Open(path) //nolint:gosec // Path is built from the configured sources directory
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingTable, path)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return rowsFromRecords(records), nil
}
