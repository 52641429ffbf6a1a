package types

import "time"

// EventType names a session lifecycle transition
type EventType string

const (
	EventStarted  EventType = "started"
	EventStopped  EventType = "stopped"
	EventFailed   EventType = "failed"
	EventRestored EventType = "restored"
)

// SessionEvent is one entry of the session event log
type SessionEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        EventType `json:"event"`
	SessionID   string    `json:"session_id,omitempty"`
	TargetIP    string    `json:"target_ip"`
	GatewayIP   string    `json:"gateway_ip"`
	Interface   string    `json:"interface"`
	PacketsSent uint64    `json:"packets_sent"`
	Error       *Error    `json:"error,omitempty"`
}

// NewSessionEvent builds an event from a session snapshot
func NewSessionEvent(kind EventType, snapshot SessionSnapshot, err error) SessionEvent {
	return SessionEvent{
		Timestamp:   time.Now(),
		Type:        kind,
		SessionID:   snapshot.ID,
		TargetIP:    snapshot.TargetIP,
		GatewayIP:   snapshot.GatewayIP,
		Interface:   snapshot.Interface,
		PacketsSent: snapshot.PacketsSent,
		Error:       AsError(err),
	}
}
