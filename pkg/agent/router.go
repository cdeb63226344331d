package agent

import (
	"fmt"

	"github.com/dotsetgreg/taskmind/pkg/providers"
)

// routeTarget is the closed set of destinations a responder reply can
// route to. Anything outside this set is a hard fault, never a fallback.
type routeTarget int

const (
	routeEnd routeTarget = iota
	routeProfile
	routeTodos
	routeInstructions
)

func (r routeTarget) String() string {
	switch r {
	case routeEnd:
		return "end"
	case routeProfile:
		return "update_profile"
	case routeTodos:
		return "update_todos"
	case routeInstructions:
		return "update_instructions"
	}
	return fmt.Sprintf("routeTarget(%d)", int(r))
}

// updateMemoryTool is the single tool the responder may call to request
// a memory update for the current turn.
const updateMemoryTool = "update_memory"

const (
	updateTypeUser         = "user"
	updateTypeTodo         = "todo"
	updateTypeInstructions = "instructions"
)

// route inspects the responder's reply and decides the next hop. A reply
// with no tool calls ends the turn. A reply with an update_memory call
// routes on its update_type argument; unknown values or foreign tools
// fail loudly so a drifting model never silently corrupts memory.
func route(reply *providers.LLMResponse) (routeTarget, error) {
	if len(reply.ToolCalls) == 0 {
		return routeEnd, nil
	}

	tc := reply.ToolCalls[0]
	if tc.Name != updateMemoryTool {
		return routeEnd, fmt.Errorf("unexpected tool call %q", tc.Name)
	}

	updateType, _ := tc.Arguments["update_type"].(string)
	switch updateType {
	case updateTypeUser:
		return routeProfile, nil
	case updateTypeTodo:
		return routeTodos, nil
	case updateTypeInstructions:
		return routeInstructions, nil
	}
	return routeEnd, fmt.Errorf("unknown update_type %q", updateType)
}
