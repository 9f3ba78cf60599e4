package source

import (
	"reflect"
	"testing"
)

func TestColumns_Resolve(t *testing.T) {
	cols := ColumnsOf([]Row{
		{"End Address": "390", "Lenght": "float", "Convert to": "V"},
		{"Tag10": "x", "Tag2": "y", "Tag1": "z", "tags": "a,b"},
	})

	tests := []struct {
		name    string
		aliases []string
		want    string
		wantOK  bool
	}{
		{"exact", []string{"Lenght"}, "Lenght", true},
		{"underscore alias", []string{"end_address"}, "End Address", true},
		{"first alias wins", []string{"Label", "Convert to", "Lenght"}, "Convert to", true},
		{"case insensitive", []string{"TAGS"}, "tags", true},
		{"missing", []string{"Factor"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := cols.Resolve(tt.aliases...)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Resolve(%v) = (%q, %v), want (%q, %v)", tt.aliases, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestColumns_IndexedSortsNumerically(t *testing.T) {
	cols := ColumnsOf([]Row{{"Tag10": "", "Tag2": "", "Tag1": "", "Tags": "", "Stage1": ""}})

	got := cols.Indexed("tag")
	want := []string{"Tag1", "Tag2", "Tag10"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Indexed(tag) = %v, want %v", got, want)
	}
}

func TestRowsFromRecords(t *testing.T) {
	records := [][]string{
		{"\ufeffCabinet", "Node", "Name"},
		{"1", "4"},
		{"", " ", ""},
		{"2", "5", "Pump"},
	}

	rows := rowsFromRecords(records)
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2 (blank record dropped)", len(rows))
	}
	if rows[0].Get("Cabinet") != "1" {
		t.Errorf("BOM not stripped from header: %v", rows[0])
	}
	if rows[0].Get("Name") != "" {
		t.Errorf("short record Name = %q, want empty", rows[0].Get("Name"))
	}
	if rows[1].Get("Name") != "Pump" {
		t.Errorf("rows[1] Name = %q, want Pump", rows[1].Get("Name"))
	}
}
