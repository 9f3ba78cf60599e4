package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/meterpoll/internal/fieldbus"
	"github.com/nerrad567/meterpoll/internal/history"
	"github.com/nerrad567/meterpoll/internal/poller"
	"github.com/nerrad567/meterpoll/internal/source"
	"github.com/nerrad567/meterpoll/internal/utility"
)

// Actions understood by Dispatch.
const (
	ActionTogglePause    = "toggle_pause"
	ActionUpdateFilters  = "update_filters"
	ActionReplaceFilters = "replace_filters"
	ActionRequestHistory = "request_history"
	ActionSelectSource   = "select_source"
	ActionListSources    = "list_sources"
	ActionRefresh        = "refresh_utility"
	ActionReload         = "reload"
)

// DefaultWait bounds how long Dispatch waits for the polling loop to serve
// refresh_utility and reload.
const DefaultWait = 30 * time.Second

// Actions lists every supported action.
var Actions = []string{
	ActionTogglePause,
	ActionUpdateFilters,
	ActionReplaceFilters,
	ActionRequestHistory,
	ActionSelectSource,
	ActionListSources,
	ActionRefresh,
	ActionReload,
}

// Commander is the set of state-changing operations clients may invoke.
// *poller.Scheduler implements it.
type Commander interface {
	TogglePause() bool
	SetFilter(f utility.Filter) (utility.Filter, error)
	PatchFilter(p utility.Patch) (utility.Filter, error)
	History(id string) ([]history.Point, bool)
	ListSources() []source.Descriptor
	SelectSource(id string) error
	RefreshUtility(ctx context.Context, id string) (fieldbus.Result, error)
	Reload(ctx context.Context) (poller.Changes, error)
}

// PauseReply answers toggle_pause.
type PauseReply struct {
	Paused bool `json:"paused"`
}

// HistoryRequest is the payload of request_history.
type HistoryRequest struct {
	UtilityID string `json:"utility_id"`
}

// HistoryReply answers request_history.
type HistoryReply struct {
	UtilityID string          `json:"utility_id"`
	Points    []history.Point `json:"points"`
}

// SelectSourceRequest is the payload of select_source.
type SelectSourceRequest struct {
	ID string `json:"id"`
}

// SourcesReply answers list_sources and select_source.
type SourcesReply struct {
	Sources []source.Descriptor `json:"sources"`
}

// RefreshRequest is the payload of refresh_utility.
type RefreshRequest struct {
	UtilityID string `json:"utility_id"`
}

// RefreshReply answers refresh_utility.
type RefreshReply struct {
	UtilityID string          `json:"utility_id"`
	Result    fieldbus.Result `json:"result"`
}

// ReloadReply answers reload.
type ReloadReply struct {
	Changes poller.Changes `json:"changes"`
	Summary string         `json:"summary"`
}

// NewReloadReply wraps c with its one-line summary.
func NewReloadReply(c poller.Changes) ReloadReply {
	return ReloadReply{Changes: c, Summary: c.Summary()}
}

// Dispatcher routes actions to a Commander.
type Dispatcher struct {
	c    Commander
	wait time.Duration
}

// NewDispatcher creates a Dispatcher for c that waits up to DefaultWait for
// the polling loop.
func NewDispatcher(c Commander) *Dispatcher {
	return &Dispatcher{c: c, wait: DefaultWait}
}

// WithWait returns a copy of d waiting up to wait for the polling loop.
func (d *Dispatcher) WithWait(wait time.Duration) *Dispatcher {
	return &Dispatcher{c: d.c, wait: wait}
}

// Dispatch runs action with its JSON payload and returns the reply.
// An empty payload is accepted for actions that need none.
func (d *Dispatcher) Dispatch(action string, payload json.RawMessage) (any, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionTogglePause:
		return PauseReply{Paused: d.c.TogglePause()}, nil

	case ActionUpdateFilters:
		var p utility.Patch
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return d.c.PatchFilter(p)

	case ActionReplaceFilters:
		var f utility.Filter
		if err := decode(payload, &f); err != nil {
			return nil, err
		}
		return d.c.SetFilter(f)

	case ActionRequestHistory:
		var req HistoryRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.UtilityID == "" {
			return nil, fmt.Errorf("%w: utility_id is required", ErrInvalidPayload)
		}
		points, ok := d.c.History(req.UtilityID)
		if !ok {
			return nil, fmt.Errorf("%w: no history for %s", ErrNotFound, req.UtilityID)
		}
		return HistoryReply{UtilityID: req.UtilityID, Points: points}, nil

	case ActionSelectSource:
		var req SelectSourceRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := d.c.SelectSource(req.ID); err != nil {
			return nil, err
		}
		return SourcesReply{Sources: d.c.ListSources()}, nil

	case ActionListSources:
		return SourcesReply{Sources: d.c.ListSources()}, nil

	case ActionRefresh:
		var req RefreshRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if req.UtilityID == "" {
			return nil, fmt.Errorf("%w: utility_id is required", ErrInvalidPayload)
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.wait)
		defer cancel()
		res, err := d.c.RefreshUtility(ctx, req.UtilityID)
		if err != nil {
			return nil, err
		}
		return RefreshReply{UtilityID: req.UtilityID, Result: res}, nil

	case ActionReload:
		ctx, cancel := context.WithTimeout(context.Background(), d.wait)
		defer cancel()
		changes, err := d.c.Reload(ctx)
		if err != nil {
			return nil, err
		}
		return NewReloadReply(changes), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}
