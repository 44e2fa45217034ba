package models

import "time"

// Message delivery statuses, in the only order they may be visited.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// StatusRank orders delivery statuses so transitions can be checked as
// strictly forward.
func StatusRank(status string) int {
	switch status {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Thread groups the messages of one conversation on a connection.
type Thread struct {
	ID             string    `json:"id" db:"id"`
	ConnectionID   string    `json:"connection_id" db:"connection_id"`
	Subject        *string   `json:"subject" db:"subject"`
	Status         string    `json:"status" db:"status"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	LastActivityAt time.Time `json:"last_message_at" db:"last_activity_at"`
}

// Message is one piece of context sent from one agent to another.
type Message struct {
	ID             string     `json:"id" db:"id"`
	ThreadID       string     `json:"thread_id" db:"thread_id"`
	FromAgentID    AgentID    `json:"from_agent_id" db:"from_agent_id"`
	ToAgentID      AgentID    `json:"to_agent_id" db:"to_agent_id"`
	Type           string     `json:"message_type" db:"message_type"`
	Category       *string    `json:"category" db:"category"`
	Content        string     `json:"content" db:"content"`
	Status         string     `json:"status" db:"status"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at" db:"acknowledged_at"`
}
