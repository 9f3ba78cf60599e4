package catalog

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
	endAddressColumns  = []string{"Registro", "Register", "End Address", "Address"}
	dataTypeColumns    = []string{"Lenght", "Length", "Data Type", "DataType", "Format"}
	labelColumns       = []string{"Label", "Convert to", "Readings", "Unit"}
	descriptionColumns = []string{"Lettura", "Description", "Name"}
	categoryColumns    = []string{"Type", "Category"}
	factorColumns      = []string{"Factor", "Unit Factor", "Scale"}
	roundingColumns    = []string{"Rounding", "Decimals"}
	reportColumns      = []string{"Report"}
)

type columns struct {
	endAddress, dataType, label, description, category, factor, rounding, report string
}

func resolveColumns(rows []source.Row) columns {
	cols := source.ColumnsOf(rows)
	pick := func(aliases []string) string {
		h, _ := cols.Resolve(aliases...)
		return h
	}
	return columns{
		endAddress:  pick(endAddressColumns),
		dataType:    pick(dataTypeColumns),
		label:       pick(labelColumns),
		description: pick(descriptionColumns),
		category:    pick(categoryColumns),
		factor:      pick(factorColumns),
		rounding:    pick(roundingColumns),
		report:      pick(reportColumns),
	}
}

// Load builds the register list from table rows, preserving row order.
// When a Report column exists, rows not marked yes are skipped silently;
// malformed rows are returned as source.Rejected.
func Load(rows []source.Row) ([]Register, []source.Rejected) {
	cols := resolveColumns(rows)

	var (
		registers []Register
		rejected  []source.Rejected
	)
	for i, row := range rows {
		if cols.report != "" && !reported(row.Get(cols.report)) {
			continue
		}
		reg, err := parseRow(row, cols)
		if err != nil {
			rejected = append(rejected, source.Rejected{Row: i + 1, Reason: err.Error()})
			continue
		}
		registers = append(registers, reg)
	}
	return registers, rejected
}

func parseRow(row source.Row, cols columns) (Register, error) {
	if cols.endAddress == "" {
		return Register{}, errors.New("no address column")
	}

	dt := InferDataType(row.Get(cols.dataType))
	words := dt.Words()

	end, err := parseAddress(row.Get(cols.endAddress))
	if err != nil {
		return Register{}, err
	}
	if int(end) < words-1 {
		return Register{}, fmt.Errorf("end address %d too small for %d-word %s", end, words, dt)
	}

	factor := 1.0
	if f := row.Get(cols.factor); f != "" {
		factor, err = strconv.ParseFloat(strings.ReplaceAll(f, ",", "."), 64)
		if err != nil || math.IsNaN(factor) || math.IsInf(factor, 0) {
			return Register{}, fmt.Errorf("invalid factor %q", f)
		}
	}

	var rounding *int
	if r := row.Get(cols.rounding); r != "" {
		n, err := strconv.Atoi(r)
		if err != nil || n < 0 {
			return Register{}, fmt.Errorf("invalid rounding %q", r)
		}
		rounding = &n
	}

	description := row.Get(cols.description)
	label := row.Get(cols.label)
	if label == "" {
		label = description
	}
	label, factor = canonicalUnit(label, factor)

	category := slug(row.Get(cols.category))
	if category == "" {
		category = slug(description)
	}
	if category == "" {
		category = slug(label)
	}
	if category == "" {
		category = fmt.Sprintf("register_%d", end)
	}

	return Register{
		Address:     end - uint16(words-1),
		EndAddress:  end,
		WordCount:   words,
		DataType:    dt,
		Label:       label,
		Description: description,
		Category:    category,
		UnitFactor:  factor,
		Rounding:    rounding,
		Kind:        Classify(label, description),
	}, nil
}

// parseAddress accepts integer text, including spreadsheet renderings like "390.0".
func parseAddress(s string) (uint16, error) {
	if s == "" {
		return 0, errors.New("missing address")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < 0 || f > math.MaxUint16 {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint16(f), nil
}

// reported accepts the affirmative Report values only. A blank cell is
// not reported; sheets without a Report column report every row.
func reported(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "1", "1.0", "true":
		return true
	default:
		return false
	}
}
