package websocket

import "time"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Machine state messages
	MessageTypeMachineState MessageType = "machine_state"

	// Diagnostics run messages
	MessageTypeDiagnosticsStep      MessageType = "diagnostics_step"
	MessageTypeDiagnosticsCompleted MessageType = "diagnostics_completed"

	// Health messages
	MessageTypeHealth MessageType = "health"

	// System messages
	MessageTypeSystemStatus MessageType = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// MachineStateData represents a machine mode transition
type MachineStateData struct {
	Mode     string `json:"mode"`
	Previous string `json:"previous_mode"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data interface{}) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewMachineStateMessage(mode, previous string) Message {
	return NewMessage(MessageTypeMachineState, MachineStateData{
		Mode:     mode,
		Previous: previous,
	})
}
