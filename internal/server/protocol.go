package server

import (
	"encoding/json"
	"fmt"
	"time"
)

// Command carried in a wire envelope.
type Command string

const (
	CmdResolve  Command = "resolve"
	CmdList     Command = "list"
	CmdStart    Command = "start"
	CmdRelease  Command = "release"
	CmdRefresh  Command = "refresh"
	CmdStatus   Command = "status"
	CmdShutdown Command = "shutdown"

	CmdOK    Command = "ok"
	CmdError Command = "error"
)

// Wire envelope for one request or response. Every exchange is a single
// newline-delimited JSON envelope in each direction.
type Envelope struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encodes a command and payload into an envelope.
func Encode(cmd Command, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", cmd, err)
		}
		raw = data
	}
	return json.Marshal(Envelope{Command: cmd, Payload: raw})
}

// Decodes an envelope and returns it along with its raw payload.
func Decode(data []byte) (Envelope, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Command == "" {
		return Envelope{}, nil, fmt.Errorf("envelope has no command")
	}
	return env, env.Payload, nil
}

// Decodes a typed payload from its raw form.
func DecodePayload[T any](payload json.RawMessage) (*T, error) {
	var v T
	if len(payload) == 0 {
		return &v, nil
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return &v, nil
}

// Asks the daemon to resolve a runtime specifier without starting
// anything.
type ResolveRequest struct {
	Runtime string `json:"runtime"`
}

// Listing entry for one installed runtime.
type RuntimeSummary struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Variant     string `json:"variant,omitempty"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind"`
	Path        string `json:"path"`
	Digest      string `json:"digest"`
	SizeBytes   int64  `json:"size_bytes"`
	Mounts      int    `json:"mounts"`
}

// Result of a list command.
type ListResult struct {
	Runtimes    []RuntimeSummary `json:"runtimes"`
	Warnings    []string         `json:"warnings,omitempty"`
	RefreshedAt time.Time        `json:"refreshed_at"`
}

// Asks the daemon to compose a runtime into a job filesystem root.
type StartRequest struct {
	JobID   string            `json:"job_id"`
	JobRoot string            `json:"job_root"`
	Runtime string            `json:"runtime"`
	Env     map[string]string `json:"env,omitempty"`
}

// Result of a start command: the session handle to release later and the
// effective environment for the launcher.
type StartResult struct {
	SessionID string            `json:"session_id"`
	Env       map[string]string `json:"env"`
}

// Asks the daemon to release a session's mounts.
type ReleaseRequest struct {
	SessionID string `json:"session_id"`
}

// Result of a refresh command.
type RefreshResult struct {
	Runtimes int `json:"runtimes"`
	Warnings int `json:"warnings"`
}

// Result of a status command.
type StatusResult struct {
	Running        bool   `json:"running"`
	Version        string `json:"version"`
	Pid            int    `json:"pid"`
	Uptime         string `json:"uptime"`
	Runtimes       int    `json:"runtimes"`
	ActiveSessions int    `json:"active_sessions"`
	Starts         int    `json:"starts"`
}

// Error response payload.
type ErrorResult struct {
	Message string `json:"message"`
}
