package source

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Table names read by the SQLite source.
const (
	UtilitiesTable = "utilities"
	RegistersTable = "registers"
)

// TableReader is the subset of database.DB used by SQLite.
type TableReader interface {
	TableRows(ctx context.Context, table string) ([]string, [][]string, error)
	Path() string
}

// SQLite reads the utilities and registers tables of the service database.
type SQLite struct {
	db TableReader
}

// NewSQLite returns a source backed by db.
func NewSQLite(db TableReader) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) ID() string {
	base := filepath.Base(s.db.Path())
	return string(KindSQLite) + ":" + strings.TrimSuffix(base, filepath.Ext(base))
}

func (s *SQLite) Kind() Kind       { return KindSQLite }
func (s *SQLite) Location() string { return s.db.Path() }

// UtilityRows reads the utilities table.
func (s *SQLite) UtilityRows(ctx context.Context) ([]Row, error) {
	return s.read(ctx, UtilitiesTable)
}

// RegisterRows reads the registers table.
func (s *SQLite) RegisterRows(ctx context.Context) ([]Row, error) {
	return s.read(ctx, RegistersTable)
}

func (s *SQLite) read(ctx context.Context, table string) ([]Row, error) {
	cols, rows, err := s.db.TableRows(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMissingTable, table, err)
	}
	records := make([][]string, 0, len(rows)+1)
	records = append(records, cols)
	records = append(records, rows...)
	return rowsFromRecords(records), nil
}
