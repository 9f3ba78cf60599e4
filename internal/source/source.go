package source

import "context"

// Kind identifies how a source stores its tables.
type Kind string

// Source kinds.
const (
	KindCSV          Kind = "csv"
	KindWorkbook     Kind = "xlsx"
	KindWorkbookPair Kind = "xlsx_pair"
	KindSQLite       Kind = "sqlite"
)

// Source provides the utility and register tables. Both are re-read on
// every call so edits made while the service runs are picked up on the
// next polling cycle.
type Source interface {
	ID() string
	Kind() Kind
	Location() string
	UtilityRows(ctx context.Context) ([]Row, error)
	RegisterRows(ctx context.Context) ([]Row, error)
}

// Descriptor describes a source for listing to clients.
type Descriptor struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Location string `json:"location"`
	Active   bool   `json:"active"`
}

func describe(s Source, active bool) Descriptor {
	return Descriptor{
		ID:       s.ID(),
		Kind:     s.Kind(),
		Location: s.Location(),
		Active:   active,
	}
}
