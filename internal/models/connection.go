package models

import "time"

// Connection statuses. Only active connections carry traffic.
const (
	ConnectionActive  = "active"
	ConnectionRemoved = "removed"
)

// Connection links two humans. The pair is unordered and at most one
// active connection exists per pair.
type Connection struct {
	ID           string    `json:"id" db:"id"`
	HumanA       HumanID   `json:"human_a_id" db:"human_a_id"`
	HumanB       HumanID   `json:"human_b_id" db:"human_b_id"`
	Status       string    `json:"status" db:"status"`
	ContractType string    `json:"contract_type" db:"contract_type"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Involves reports whether h is one side of the connection.
func (c Connection) Involves(h HumanID) bool {
	return c.HumanA == h || c.HumanB == h
}

// Other returns the side of the connection that is not h.
func (c Connection) Other(h HumanID) HumanID {
	if c.HumanA == h {
		return c.HumanB
	}
	return c.HumanA
}

// Invite is a single-use code that lets another human connect to its creator.
type Invite struct {
	ID         string    `json:"id" db:"id"`
	Code       string    `json:"code" db:"code"`
	CreatedBy  HumanID   `json:"created_by" db:"created_by"`
	ConsumedBy *HumanID  `json:"consumed_by,omitempty" db:"consumed_by"`
	Used       bool      `json:"used" db:"used"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
}

// Permission levels.
const (
	LevelAuto  = "auto"
	LevelAsk   = "ask"
	LevelNever = "never"
)

// Permission holds one human's outbound and inbound level for a category
// on a connection. Unique per (connection, human, category).
type Permission struct {
	ConnectionID string    `json:"connection_id" db:"connection_id"`
	HumanID      HumanID   `json:"human_id" db:"human_id"`
	Category     string    `json:"category" db:"category"`
	Outbound     string    `json:"level" db:"outbound_level"`
	Inbound      string    `json:"inbound_level" db:"inbound_level"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
