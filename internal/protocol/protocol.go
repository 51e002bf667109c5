// Package protocol defines the structured message envelope carried inside a
// bus message's Content field (spec §6: the bus content field carries a
// UTF-8 JSON record).
package protocol

import "encoding/json"

// Type is one of the envelope kinds the core emits or consumes. Unknown
// types and parse failures are ignored by the router, never errors.
type Type string

const (
	TypeTaskAvailable Type = "TASK_AVAILABLE"
	TypeAssign        Type = "ASSIGN"
	TypeClaim         Type = "CLAIM"
	TypeTaskDone      Type = "TASK_DONE"
	TypeTaskFail      Type = "TASK_FAIL"
)

// Task describes a unit of work a daemon may claim or be assigned.
type Task struct {
	ID        string `json:"id,omitempty"`
	Role      string `json:"role,omitempty"`
	Component string `json:"component,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}

// Envelope is the JSON record carried in a bus message's content.
type Envelope struct {
	Type      Type   `json:"type"`
	AgentID   string `json:"agentId,omitempty"`
	Task      *Task  `json:"task,omitempty"`
	Component string `json:"component,omitempty"`
	Role      string `json:"role,omitempty"`
	Success   bool   `json:"success,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Parse decodes content as an Envelope. Parse failures are the caller's to
// ignore silently, per spec.
func Parse(content string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Marshal encodes the envelope as JSON content for a bus message.
func (e Envelope) Marshal() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
