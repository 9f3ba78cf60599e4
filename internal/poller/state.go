package poller

import (
	"time"

	"github.com/nerrad567/meterpoll/internal/catalog"
	"github.com/nerrad567/meterpoll/internal/fieldbus"
	"github.com/nerrad567/meterpoll/internal/infrastructure/config"
	"github.com/nerrad567/meterpoll/internal/source"
	"github.com/nerrad567/meterpoll/internal/utility"
)

// Mode is what the scheduler is currently doing.
type Mode string

// Scheduler modes.
const (
	ModeReloading   Mode = "reloading"
	ModeIdle        Mode = "idle"
	ModePaused      Mode = "paused"
	ModeFullScan    Mode = "full_scan"
	ModeIncremental Mode = "incremental"
)

// EventKind tells publishers why a snapshot was produced.
type EventKind string

// Event kinds.
const (
	EventReading EventKind = "reading" // a poll is about to start
	EventResult  EventKind = "result"  // a poll finished
	EventCycle   EventKind = "cycle"   // a cycle completed or was abandoned
	EventPaused  EventKind = "paused"  // paused heartbeat
	EventCommand EventKind = "command" // state changed by a command
)

// Event is handed to publishers. Result is set for reading and result events.
type Event struct {
	Kind     EventKind        `json:"kind"`
	Result   *fieldbus.Result `json:"result,omitempty"`
	Snapshot Snapshot         `json:"snapshot"`
}

// Rejections lists the rows dropped by the last reload.
type Rejections struct {
	Utilities []source.Rejected `json:"utilities"`
	Registers []source.Rejected `json:"registers"`
}

// Snapshot is the full published state.
type Snapshot struct {
	Utilities []utility.Utility          `json:"utilities"`
	Visible   []string                   `json:"visible"`
	Registers []catalog.Register         `json:"registers"`
	Latest    map[string]fieldbus.Result `json:"latest"`
	Settings  config.Settings            `json:"settings"`
	StartedAt time.Time                  `json:"started_at"`
	Paused    bool                       `json:"paused"`
	Facets    utility.Facets             `json:"facets"`
	Filter    utility.Filter             `json:"filter"`
	Cycle     int                        `json:"cycle"`
	Mode      Mode                       `json:"mode"`
	Source    string                     `json:"source"`
	Rejected  Rejections                 `json:"rejected"`
	Changes   *Changes                   `json:"changes,omitempty"`
}

// state is owned by the Scheduler and guarded by its mutex.
type state struct {
	settings  config.Settings
	utilities []utility.Utility
	visible   []utility.Utility
	registers []catalog.Register
	facets    utility.Facets
	filter    utility.Filter
	latest    map[string]fieldbus.Result
	paused    bool
	reload    bool
	cycles    int
	mode      Mode
	rejected  Rejections

	// changes is the last non-empty difference between two loads.
	changes *Changes
	loaded  bool

	refresh       []refreshRequest
	reloadWaiters []chan reloadReply
}

func (st *state) refilter() {
	st.visible = utility.ApplyFilter(st.utilities, st.filter)
}

func (st *state) utility(id string) (utility.Utility, bool) {
	for _, u := range st.utilities {
		if u.ID == id {
			return u, true
		}
	}
	return utility.Utility{}, false
}

// wakePending reports whether a request is waiting for the loop. paused is
// the pause flag the last iteration acted on.
func (st *state) wakePending(paused bool) bool {
	return st.reload || len(st.refresh) > 0 || len(st.reloadWaiters) > 0 || st.paused != paused
}
