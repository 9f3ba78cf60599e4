package utility

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nerrad567/meterpoll/internal/source"
)

// Column aliases, tried in order.
var (
	cabinetColumns = []string{"Cabinet", "Quadro"}
	nodeColumns    = []string{"Nodo", "Node", "Node ID", "NodeID", "Unit ID", "Slave ID"}
	nameColumns    = []string{"Utenza", "Name", "Utility", "Description"}
	ipColumns      = []string{"IP", "IP Address", "Host"}
	portColumns    = []string{"Port", "Porta"}
	group1Columns  = []string{"Group1", "Gruppo", "Gruppo1", "Group"}
	group2Columns  = []string{"Group2", "Gruppo2", "Sottogruppo"}
	tagsColumns    = []string{"Tags"}
)

// Registry builds utilities from table rows.
// Rows without an IP take the gateway address of their cabinet.
type Registry struct {
	cabinets    map[string]string
	defaultPort int
}

// NewRegistry creates a Registry with the cabinet gateway table and the
// port used when a row has none.
func NewRegistry(cabinets map[string]string, defaultPort int) *Registry {
	table := make(map[string]string, len(cabinets))
	for k, v := range cabinets {
		table[normalizeNumber(k)] = strings.TrimSpace(v)
	}
	return &Registry{cabinets: table, defaultPort: defaultPort}
}

type columns struct {
	cabinet, node, name, ip, port, group1, group2, tags string
	indexedTags                                         []string
}

// Load builds the utility list from rows, preserving row order.
// Rows without a resolvable address or node id, and rows repeating an
// earlier id, are returned as rejected.
func (r *Registry) Load(rows []source.Row) ([]Utility, []source.Rejected) {
	cols := source.ColumnsOf(rows)
	pick := func(aliases []string) string {
		h, _ := cols.Resolve(aliases...)
		return h
	}
	c := columns{
		cabinet:     pick(cabinetColumns),
		node:        pick(nodeColumns),
		name:        pick(nameColumns),
		ip:          pick(ipColumns),
		port:        pick(portColumns),
		group1:      pick(group1Columns),
		group2:      pick(group2Columns),
		tags:        pick(tagsColumns),
		indexedTags: cols.Indexed("tag"),
	}

	var (
		utilities []Utility
		rejected  []source.Rejected
	)
	seen := make(map[string]bool)
	for i, row := range rows {
		u, err := r.parseRow(row, c)
		if err == nil && seen[u.ID] {
			err = fmt.Errorf("duplicate utility %s", u.ID)
		}
		if err != nil {
			rejected = append(rejected, source.Rejected{Row: i + 1, Reason: err.Error()})
			continue
		}
		seen[u.ID] = true
		utilities = append(utilities, u)
	}
	return utilities, rejected
}

func (r *Registry) parseRow(row source.Row, c columns) (Utility, error) {
	nodeText := row.Get(c.node)
	if nodeText == "" {
		return Utility{}, errors.New("missing node id")
	}
	node, err := strconv.ParseFloat(nodeText, 64)
	if err != nil || node != math.Trunc(node) || node < 0 || node > math.MaxUint8 {
		return Utility{}, fmt.Errorf("invalid node id %q", nodeText)
	}

	cabinet := normalizeNumber(row.Get(c.cabinet))

	host := row.Get(c.ip)
	if host == "" {
		host = r.cabinets[cabinet]
	}
	if host == "" {
		if cabinet == "" {
			return Utility{}, errors.New("no ip and no cabinet")
		}
		return Utility{}, fmt.Errorf("no ip for cabinet %q", cabinet)
	}

	port := r.defaultPort
	if p := row.Get(c.port); p != "" {
		n, err := strconv.Atoi(normalizeNumber(p))
		if err != nil || n < 1 || n > math.MaxUint16 {
			return Utility{}, fmt.Errorf("invalid port %q", p)
		}
		port = n
	}

	u := Utility{
		ID:      MakeID(cabinet, host, uint8(node)),
		Name:    row.Get(c.name),
		Cabinet: cabinet,
		Address: Address{Host: host, Port: port},
		NodeID:  uint8(node),
		Group1:  row.Get(c.group1),
		Group2:  row.Get(c.group2),
		Tags:    parseTags(row, c),
	}
	if u.Name == "" {
		u.Name = u.ID
	}
	return u, nil
}

// parseTags concatenates the comma-delimited tags column and the indexed
// Tag1..TagN columns, in that order. Duplicates are kept.
func parseTags(row source.Row, c columns) []string {
	tags := []string{}
	for _, t := range strings.Split(row.Get(c.tags), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	for _, h := range c.indexedTags {
		if t := row.Get(h); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// normalizeNumber turns spreadsheet renderings like "1.0" into "1".
// Non-numeric text is returned trimmed.
func normalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && !math.IsInf(f, 0) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}
