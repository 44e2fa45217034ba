package relay

import (
	"context"
	"time"

	"github.com/stoik/cex/internal/models"
)

// Store runs every unit of work as one atomic transaction. When fn returns an
// error nothing it wrote is kept.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close()
}

// Tx is the set of row operations available inside a transaction. Lookups
// return ErrNoRows for absent rows and inserts return ErrDuplicate on unique
// violations.
type Tx interface {
	PermissionLookup

	InsertHuman(ctx context.Context, h models.Human) error
	HumanByID(ctx context.Context, id models.HumanID) (models.Human, error)
	HumanByEmail(ctx context.Context, email string) (models.Human, error)

	InsertAgent(ctx context.Context, a models.Agent) error
	AgentByID(ctx context.Context, id models.AgentID) (models.Agent, error)
	AgentsByKeyPrefix(ctx context.Context, prefix string) ([]models.Agent, error)
	// AgentsByHuman lists the primary agent first, then by creation time.
	AgentsByHuman(ctx context.Context, human models.HumanID) ([]models.Agent, error)
	UpdateAgent(ctx context.Context, a models.Agent) error

	InsertInvite(ctx context.Context, inv models.Invite) error
	// InviteByCode locks the invite row until the transaction ends.
	InviteByCode(ctx context.Context, code string) (models.Invite, error)
	UpdateInvite(ctx context.Context, inv models.Invite) error
	// DeleteDeadInvites removes invites that expired before the given time
	// and used invites created before it.
	DeleteDeadInvites(ctx context.Context, before time.Time) (int64, error)

	InsertConnection(ctx context.Context, c models.Connection) error
	ConnectionByID(ctx context.Context, id string) (models.Connection, error)
	// ActiveConnection finds the active connection for the unordered pair.
	ActiveConnection(ctx context.Context, a, b models.HumanID) (models.Connection, error)
	ActiveConnectionsFor(ctx context.Context, human models.HumanID) ([]models.Connection, error)
	SetConnectionStatus(ctx context.Context, id, status string) error

	InsertPermissions(ctx context.Context, perms []models.Permission) error
	Permissions(ctx context.Context, connectionID string, human models.HumanID) ([]models.Permission, error)
	UpsertPermission(ctx context.Context, p models.Permission) error

	InsertThread(ctx context.Context, t models.Thread) error
	ThreadByID(ctx context.Context, id string) (models.Thread, error)
	TouchThread(ctx context.Context, id string, at time.Time) error
	// ThreadsForConnections returns threads ordered by last activity, newest first.
	ThreadsForConnections(ctx context.Context, connectionIDs []string) ([]models.Thread, error)

	InsertMessage(ctx context.Context, m models.Message) error
	MessageByID(ctx context.Context, id string) (models.Message, error)
	// ThreadMessages returns messages in creation order.
	ThreadMessages(ctx context.Context, threadID string) ([]models.Message, error)
	// ClaimSent moves up to limit sent messages addressed to agent to
	// delivered, newest first, and returns them as updated. A message is
	// claimed by at most one caller.
	ClaimSent(ctx context.Context, agent models.AgentID, limit int) ([]models.Message, error)
	// MarkRead moves a sent or delivered message to read. It reports false
	// when the message was already read.
	MarkRead(ctx context.Context, id string, at time.Time) (bool, error)

	InsertAnnouncement(ctx context.Context, a models.Announcement) error
	AnnouncementByID(ctx context.Context, id string) (models.Announcement, error)
	// ListAnnouncements returns every announcement, newest first.
	ListAnnouncements(ctx context.Context) ([]models.Announcement, error)
	SetAnnouncementActive(ctx context.Context, id string, active bool) error
	// ClaimUnreadAnnouncements returns active announcements the agent has not
	// seen, oldest first, and records them as read at the given time.
	ClaimUnreadAnnouncements(ctx context.Context, agent models.AgentID, at time.Time) ([]models.Announcement, error)
}

// Notifier is the best-effort out-of-band channel for new messages.
type Notifier interface {
	// ValidateURL checks a webhook URL before it is stored.
	ValidateURL(raw string) error
	// MessageCreated is called after the message is committed. It must not
	// block the caller.
	MessageCreated(recipient models.Agent, msg models.Message)
}

// NopNotifier accepts every URL and drops every notification.
type NopNotifier struct{}

func (NopNotifier) ValidateURL(string) error { return nil }
func (NopNotifier) MessageCreated(models.Agent, models.Message) {}
