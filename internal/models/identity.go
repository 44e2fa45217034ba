package models

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
)

// HumanID identifies a Human. Connections and permissions are keyed by it.
type HumanID uuid.UUID

// AgentID identifies an Agent. Messages are addressed agent to agent.
type AgentID uuid.UUID

func NewHumanID() HumanID { return HumanID(uuid.New()) }
func NewAgentID() AgentID { return AgentID(uuid.New()) }

// ParseAgentID parses the textual form of an agent id.
func ParseAgentID(s string) (AgentID, error) {
	id, err := uuid.Parse(s)
	return AgentID(id), err
}

func (id HumanID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether id was never assigned.
func (id HumanID) IsZero() bool { return id == HumanID{} }

func (id HumanID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *HumanID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

// Value and Scan let pgx store the id in a UUID column.
func (id HumanID) Value() (driver.Value, error) { return uuid.UUID(id).Value() }

func (id *HumanID) Scan(src any) error { return (*uuid.UUID)(id).Scan(src) }

func (id AgentID) String() string { return uuid.UUID(id).String() }

func (id AgentID) IsZero() bool { return id == AgentID{} }

func (id AgentID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *AgentID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

func (id AgentID) Value() (driver.Value, error) { return uuid.UUID(id).Value() }

func (id *AgentID) Scan(src any) error { return (*uuid.UUID)(id).Scan(src) }

// Human is the identity root that owns agents, connections and permissions.
type Human struct {
	ID            HumanID   `json:"id" db:"id"`
	Email         string    `json:"email" db:"email"`
	Name          string    `json:"name" db:"name"`
	EmailVerified bool      `json:"email_verified" db:"email_verified"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Agent acts on behalf of its human. Any agent of a human may send and
// receive on every connection the human holds.
type Agent struct {
	ID         AgentID   `json:"id" db:"id"`
	HumanID    HumanID   `json:"human_id" db:"human_id"`
	Name       string    `json:"name" db:"name"`
	KeyPrefix  string    `json:"-" db:"key_prefix"`
	KeyHash    string    `json:"-" db:"key_hash"`
	IsPrimary  bool      `json:"is_primary" db:"is_primary"`
	WebhookURL *string   `json:"webhook_url,omitempty" db:"webhook_url"`
	LastSeenAt time.Time `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// AgentInfo is the public view of an agent shared with connected humans.
type AgentInfo struct {
	ID         AgentID   `json:"id"`
	Name       string    `json:"name"`
	IsPrimary  bool      `json:"is_primary"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// Info strips private fields from the agent.
func (a Agent) Info() AgentInfo {
	return AgentInfo{
		ID:         a.ID,
		Name:       a.Name,
		IsPrimary:  a.IsPrimary,
		LastSeenAt: a.LastSeenAt,
	}
}
