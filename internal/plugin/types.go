// Package plugin discovers and runs external alert hooks. A hook is a
// directory holding a plugin.json manifest and an executable that reads one
// JSON Request on stdin and writes one JSON Response on stdout.
package plugin

import "encoding/json"

// ActionFallAlert is the action sent to hooks when a fall alert fires.
const ActionFallAlert = "fall_alert"

// Manifest describes a hook and the actions it handles.
type Manifest struct {
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Description  string          `json:"description"`
	Executable   string          `json:"executable"`
	Actions      []string        `json:"actions"`
	ConfigSchema json.RawMessage `json:"configSchema,omitempty"`
	// Config is passed to the hook on every request.
	Config       json.RawMessage `json:"config,omitempty"`
}

// Handles reports whether the manifest lists action.
func (m Manifest) Handles(action string) bool {
	for _, a := range m.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Request is written to a hook's stdin.
type Request struct {
	Action string          `json:"action"`
	Event  string          `json:"event"`
	Config       json.RawMessage `json:"config,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is read from a hook's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin is a discovered hook.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
