package models

import "time"

// AnnouncementSource marks announcements as platform-authored so agents can
// tell them apart from messages sent by other agents.
const AnnouncementSource = "context-exchange-platform"

// Announcement is a platform-wide broadcast delivered once to every agent.
type Announcement struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content" db:"content"`
	Version   string    `json:"version" db:"version"`
	Active    bool      `json:"active" db:"active"`
	Source    string    `json:"source" db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AnnouncementRead is the permanent proof that an agent received an announcement.
type AnnouncementRead struct {
	AnnouncementID string    `db:"announcement_id"`
	AgentID        AgentID   `db:"agent_id"`
	ReadAt         time.Time `db:"read_at"`
}
