package utility

import (
	"net"
	"strconv"
	"strings"
)

// Address is the Modbus/TCP endpoint of a meter gateway.
type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// String returns host:port.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Utility is one metered load: a Modbus node behind a cabinet gateway.
type Utility struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Cabinet string   `json:"cabinet,omitempty"`
	Address Address  `json:"address"`
	NodeID  uint8    `json:"node_id"`
	Group1  string   `json:"group1,omitempty"`
	Group2  string   `json:"group2,omitempty"`
	Tags    []string `json:"tags"`
}

// SimulatedGroup marks utilities served by simulated meters.
const SimulatedGroup = "dummy"

// Simulated reports whether the utility belongs to the simulated group.
func (u Utility) Simulated() bool {
	return strings.EqualFold(strings.TrimSpace(u.Group1), SimulatedGroup) ||
		strings.EqualFold(strings.TrimSpace(u.Group2), SimulatedGroup)
}

// MakeID builds the stable identifier of a utility.
// Rows without a cabinet are keyed by their host instead.
func MakeID(cabinet, host string, node uint8) string {
	prefix := "cab" + cabinet
	if cabinet == "" {
		prefix = "ip" + strings.NewReplacer(".", "-", ":", "-").Replace(host)
	}
	return prefix + "_node" + strconv.Itoa(int(node))
}
