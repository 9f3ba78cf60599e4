package source

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Row is one record of a tabular source: header name to cell text.
type Row map[string]string

// Get returns the trimmed cell under header, or "" when absent.
func (r Row) Get(header string) string {
	if header == "" {
		return ""
	}
	return strings.TrimSpace(r[header])
}

// Empty reports whether every cell of the row is blank.
func (r Row) Empty() bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Columns indexes the headers present in a set of rows by normalised name,
// so aliases such as "End Address", "end_address" and "END-ADDRESS" match.
type Columns map[string]string

// ColumnsOf collects the headers of rows.
func ColumnsOf(rows []Row) Columns {
	c := make(Columns)
	for _, r := range rows {
		for h := range r {
			n := Normalize(h)
			if _, ok := c[n]; !ok && n != "" {
				c[n] = h
			}
		}
	}
	return c
}

// Resolve returns the source header for the first alias that is present.
// Aliases are tried in order, so earlier entries win when several exist.
func (c Columns) Resolve(aliases ...string) (string, bool) {
	for _, a := range aliases {
		if h, ok := c[Normalize(a)]; ok {
			return h, true
		}
	}
	return "", false
}

var indexedHeader = regexp.MustCompile(`^([a-z]+)([0-9]+)$`)

// Indexed returns the headers named prefix1..prefixN, ordered numerically
// (Tag2 before Tag10).
func (c Columns) Indexed(prefix string) []string {
	prefix = Normalize(prefix)

	type indexed struct {
		n      int
		header string
	}
	var found []indexed
	for n, h := range c {
		m := indexedHeader.FindStringSubmatch(n)
		if m == nil || m[1] != prefix {
			continue
		}
		i, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		found = append(found, indexed{n: i, header: h})
	}

	sort.Slice(found, func(a, b int) bool { return found[a].n < found[b].n })

	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.header
	}
	return out
}

// Normalize lower-cases a header and strips spaces, underscores and hyphens.
func Normalize(header string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(header)) {
		switch r {
		case ' ', '_', '-', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// rowsFromRecords turns a header record plus data records into rows.
// Records shorter than the header leave the missing cells empty; blank
// records are dropped.
func rowsFromRecords(records [][]string) []Row {
	if len(records) == 0 {
		return nil
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(Row, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		if row.Empty() {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// Rejected records a row that was dropped while building typed records.
// Row is the 1-based data row index; the header is not counted.
type Rejected struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}
