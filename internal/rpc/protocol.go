// Package rpc implements the one-shot request/response protocol spoken on
// the orchestrator's loopback socket. A client connects, writes one JSON
// request, half-closes its side and reads the response lines until the
// server closes the connection.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultAddress is where the server listens unless configured otherwise.
const DefaultAddress = "127.0.0.1:7593"

// MaxRequestSize caps the request payload.
const MaxRequestSize = 1 << 20

// Actions
const (
	ActionStart     = "start"
	ActionStop      = "stop"
	ActionKill      = "kill"
	ActionList      = "list"
	ActionAddress   = "address"
	ActionAvailable = "available"
)

// Actions lists every verb the server understands.
var Actions = []string{ActionStart, ActionStop, ActionKill, ActionList, ActionAddress, ActionAvailable}

// Protocol errors
var (
	ErrNoAction        = errors.New("rpc: no action defined")
	ErrUnknownAction   = errors.New("rpc: unknown action")
	ErrRequestTooLarge = errors.New("rpc: request too large")
)

// Request is the JSON document a client sends.
type Request struct {
	Action string `json:"action"`
	VMName string `json:"vm_name,omitempty"`
	Memory string `json:"memory,omitempty"`
	CPU    int    `json:"cpu,omitempty"`
}

// NeedsName reports whether action targets a single instance.
func NeedsName(action string) bool {
	switch action {
	case ActionStart, ActionStop, ActionKill, ActionAddress:
		return true
	}
	return false
}

// Known reports whether action is a recognized verb.
func Known(action string) bool {
	for _, a := range Actions {
		if a == action {
			return true
		}
	}
	return false
}

// DecodeRequest parses payload and normalizes the action. The name is
// left untouched; the lifecycle trims and validates it.
func DecodeRequest(payload []byte) (*Request, error) {
	if len(payload) > MaxRequestSize {
		return nil, ErrRequestTooLarge
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoAction, err)
	}
	req.Action = strings.TrimSpace(req.Action)
	if req.Action == "" {
		return nil, ErrNoAction
	}
	if !Known(req.Action) {
		return &req, fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
	}
	return &req, nil
}

// Response texts
const (
	msgNoAction         = "No action defined"
	msgUnknownAction    = "Unknown action %s"
	msgRequestTooLarge  = "Request too large"
	msgNoName           = "No VM name is given"
	msgInvalidName      = "Invalid VM name %s"
	msgNotRunning       = "No such VM %s is running"
	msgAlreadyStarted   = "VM %s is already started"
	msgInvalidResources = "Invalid resources for VM %s: %s"
	msgStarting         = "Starting VM %s"
	msgStarted          = "VM %s started"
	msgAttachFailed     = "There was an error whilst attaching an image"
	msgSpawnFailed      = "There was an error whilst starting VM %s"
	msgAttempting       = "Attempting to %s VM %s"
	msgDetachFailed     = "Error occurred whilst detaching VM's disk %s"
	msgCheckLogs        = "Please check server logs"
	msgStopped          = "VM %s is stopped"
	msgAlreadyStopped   = "VM %s is already stopped"
	msgNoRunning        = "No running VMs"
	msgRunningHeader    = "Currently running VMs are:"
	msgAvailableHeader  = "Available VMs:"
	msgAddress          = "VM %s IP is %s"
	msgNoAddress        = "No IP can be determined. Try a bit later..."
	msgInternal         = "Internal error, please check server logs"
)
