package relay

import (
	"strconv"

	"github.com/nerrad567/meterpoll/internal/catalog"
	"github.com/nerrad567/meterpoll/internal/poller"
	"github.com/nerrad567/meterpoll/internal/utility"
)

// namedValues keys values by register category. Registers sharing a
// category fall back to category_address so none is lost.
func namedValues(registers []catalog.Register, values map[uint16]float64) map[string]float64 {
	out := make(map[string]float64, len(values))
	for _, r := range registers {
		v, ok := values[r.Address]
		if !ok {
			continue
		}
		name := r.Category
		if name == "" {
			name = "register"
		}
		if _, taken := out[name]; taken {
			name = name + "_" + strconv.Itoa(int(r.Address))
		}
		out[name] = v
	}
	return out
}

func findUtility(snap poller.Snapshot, id string) (utility.Utility, bool) {
	for _, u := range snap.Utilities {
		if u.ID == id {
			return u, true
		}
	}
	return utility.Utility{}, false
}
