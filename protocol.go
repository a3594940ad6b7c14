package main

import (
	"encoding/json"

	"github.com/mil-ad/streampad/internal/profile"
	"github.com/mil-ad/streampad/internal/transport"
)

// IPC commands.
const (
	cmdStatus    = "status"
	cmdSwitch    = "switch"
	cmdSend      = "send"
	cmdPress     = "press"
	cmdHold      = "hold"
	cmdRelease   = "release"
	cmdKeepAlive = "keepalive"
	cmdStop      = "stop"
	cmdWatch     = "watch"
	cmdProfiles  = "profiles"
	cmdUse       = "use"
	cmdImport    = "import"
	cmdExport    = "export"
	cmdDelete    = "delete"
	cmdRename    = "rename"
	cmdStats     = "stats"
	cmdDuplicate = "duplicate"
	cmdMerge     = "merge"
	cmdClear     = "clear"
)

// IPCRequest is sent from the CLI client to the daemon.
type IPCRequest struct {
	Command string `json:"command"`
	Mode    string `json:"mode,omitempty"`    // switch
	Chord   string `json:"chord,omitempty"`   // send, hold: "ctrl+c"
	Slot    *int   `json:"slot,omitempty"`    // press, hold: grid index in the current profile
	KeyCode *uint8 `json:"keyCode,omitempty"` // send: raw usage id
	// Modifier goes with KeyCode.
	Modifier uint8           `json:"modifier,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"` // keepalive
	Profile  string          `json:"profile,omitempty"` // use, import, export, delete, rename, stats, duplicate, merge
	NewName  string          `json:"newName,omitempty"` // rename, duplicate
	Data     json.RawMessage `json:"data,omitempty"`    // import, merge
}

// IPCResponse is sent from the daemon back to the CLI client. watch sends
// one per readiness change.
type IPCResponse struct {
	Ready       bool            `json:"ready"`
	Mode        string          `json:"mode,omitempty"`
	State       string          `json:"state,omitempty"` // bluetooth session state
	Peer        *transport.Peer `json:"peer,omitempty"`
	Elevated    bool            `json:"elevated,omitempty"`
	Profile     string          `json:"profile,omitempty"`
	Profiles    []string        `json:"profiles,omitempty"`
	KeepAlive   bool            `json:"keepAlive,omitempty"`
	Repeating   string          `json:"repeating,omitempty"`
	Stats       *profile.Stats  `json:"stats,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Unsupported bool            `json:"unsupported,omitempty"`
	Error       string          `json:"error,omitempty"`
}
