package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when the configuration leaves the prefix empty.
const DefaultTopicPrefix = "meterpoll"

// Topics builds the meterpoll topic tree under a configurable prefix:
//
//	{prefix}/state/{utility_id}     retained final result per meter
//	{prefix}/cycle                  cycle summaries
//	{prefix}/command/{action}       incoming commands
//	{prefix}/response/{request_id}  command replies
//	{prefix}/system/status          online/offline (LWT)
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

// State returns the retained state topic of one meter.
//
// Example: meterpoll/state/cab1_node1
func (t Topics) State(utilityID string) string {
	return fmt.Sprintf("%s/state/%s", t.prefix(), utilityID)
}

// Cycle returns the topic for cycle summaries.
func (t Topics) Cycle() string {
	return t.prefix() + "/cycle"
}

// Command returns the topic a command action is received on.
//
// Example: meterpoll/command/toggle_pause
func (t Topics) Command(action string) string {
	return fmt.Sprintf("%s/command/%s", t.prefix(), action)
}

// Response returns the reply topic of a command request.
func (t Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s", t.prefix(), requestID)
}

// SystemStatus returns the topic carrying the online/offline status.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// AllStates matches every meter state topic.
func (t Topics) AllStates() string {
	return t.prefix() + "/state/+"
}

// AllCommands matches every command topic.
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/+"
}

// CommandAction extracts the action from a command topic.
// It returns false for topics outside the command tree.
func (t Topics) CommandAction(topic string) (string, bool) {
	base := t.prefix() + "/command/"
	if !strings.HasPrefix(topic, base) {
		return "", false
	}
	action := strings.TrimPrefix(topic, base)
	if action == "" || strings.Contains(action, "/") {
		return "", false
	}
	return action, true
}
