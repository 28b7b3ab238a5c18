package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectTaskEvents = "a2a.tasks"
)

// BuildAgentSubject builds the request subject an agent listens on, keyed by
// the agent name and the major of its version.
func BuildAgentSubject(name string, major uint64) string {
	safe := strings.ReplaceAll(strings.ToLower(name), ".", "_")
	return fmt.Sprintf("agent.%s.v%d", safe, major)
}

// BuildTaskEventSubject builds the per-state task event subject.
func BuildTaskEventSubject(global, state string) string {
	if global == "" {
		global = SubjectTaskEvents
	}
	return fmt.Sprintf("%s.%s", global, state)
}
