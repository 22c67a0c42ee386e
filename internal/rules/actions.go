package rules

import (
	"encoding/json"

	"github.com/sybethiesant/flexerr/internal/errors"
)

// ActionType identifies one operation a rule may dispatch on a match
type ActionType string

const (
	// ActionAddToQueue schedules the rule's destructive actions behind the
	// buffer window. It is the only action the preview phase executes.
	ActionAddToQueue ActionType = "add_to_queue"

	ActionRemoveFromLibrary      ActionType = "remove_from_library"
	ActionRemoveFromOrchestrator ActionType = "remove_from_orchestrator"
	ActionDeleteFiles            ActionType = "delete_files"
	ActionUnmonitor              ActionType = "unmonitor"
	ActionTag                    ActionType = "tag"
)

// Action is a tagged operation with optional parameters
type Action struct {
	Type   ActionType        `json:"type"`
	Params map[string]string `json:"params,omitempty"`
}

// Destructive reports whether the action mutates library or orchestrator
// state. Destructive actions only ever run through the commit phase, after
// the buffer window has elapsed and protections were re-checked.
func (a Action) Destructive() bool {
	switch a.Type {
	case ActionRemoveFromLibrary, ActionRemoveFromOrchestrator, ActionDeleteFiles, ActionUnmonitor, ActionTag:
		return true
	default:
		return false
	}
}

// ParseActions decodes a rule's stored action list. A nil or empty payload
// yields no actions.
func ParseActions(raw *string) ([]Action, error) {
	if raw == nil || *raw == "" || *raw == "null" {
		return nil, nil
	}

	var actions []Action
	if err := json.Unmarshal([]byte(*raw), &actions); err != nil {
		return nil, errors.ValidationError("invalid action list: " + err.Error())
	}

	for _, action := range actions {
		if !action.known() {
			return nil, errors.ValidationError("unknown action type: " + string(action.Type))
		}
	}
	return actions, nil
}

func (a Action) known() bool {
	switch a.Type {
	case ActionAddToQueue, ActionRemoveFromLibrary, ActionRemoveFromOrchestrator,
		ActionDeleteFiles, ActionUnmonitor, ActionTag:
		return true
	default:
		return false
	}
}

// SplitActions partitions an action list into the preview-phase and
// commit-phase subsets, preserving order within each
func SplitActions(actions []Action) (preview, commit []Action) {
	for _, action := range actions {
		if action.Destructive() {
			commit = append(commit, action)
		} else {
			preview = append(preview, action)
		}
	}
	return preview, commit
}
