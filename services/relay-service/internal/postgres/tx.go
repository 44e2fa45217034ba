package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stoik/cex/internal/models"
	"github.com/stoik/cex/internal/relay"
)

type tx struct {
	tx pgx.Tx
}

var _ relay.Tx = (*tx)(nil)

const (
	humanColumns        = `id, email, name, email_verified, created_at`
	agentColumns        = `id, human_id, name, key_prefix, key_hash, is_primary, webhook_url, last_seen_at, created_at`
	inviteColumns       = `id, code, created_by, consumed_by, used, created_at, expires_at`
	connectionColumns   = `id, human_a_id, human_b_id, status, contract_type, created_at`
	permissionColumns   = `connection_id, human_id, category, outbound_level, inbound_level, updated_at`
	threadColumns       = `id, connection_id, subject, status, created_at, last_activity_at`
	messageColumns      = `id, thread_id, from_agent_id, to_agent_id, message_type, category, content, status, created_at, acknowledged_at`
	announcementColumns = `id, title, content, version, active, created_at`
)

func (t *tx) exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return mapErr(err)
}

// execOne fails with ErrNoRows when no row was affected.
func (t *tx) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return relay.ErrNoRows
	}
	return nil
}

// Humans

func scanHuman(row pgx.Row) (models.Human, error) {
	var h models.Human
	err := row.Scan(&h.ID, &h.Email, &h.Name, &h.EmailVerified, &h.CreatedAt)
	return h, mapErr(err)
}

func (t *tx) InsertHuman(ctx context.Context, h models.Human) error {
	return t.exec(ctx, `INSERT INTO humans (`+humanColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		h.ID, h.Email, h.Name, h.EmailVerified, h.CreatedAt)
}

func (t *tx) HumanByID(ctx context.Context, id models.HumanID) (models.Human, error) {
	return scanHuman(t.tx.QueryRow(ctx, `SELECT `+humanColumns+` FROM humans WHERE id = $1`, id))
}

func (t *tx) HumanByEmail(ctx context.Context, email string) (models.Human, error) {
	return scanHuman(t.tx.QueryRow(ctx, `SELECT `+humanColumns+` FROM humans WHERE LOWER(email) = LOWER($1)`, email))
}

// Agents

func scanAgent(row pgx.Row) (models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.HumanID, &a.Name, &a.KeyPrefix, &a.KeyHash, &a.IsPrimary, &a.WebhookURL, &a.LastSeenAt, &a.CreatedAt)
	return a, mapErr(err)
}

func (t *tx) InsertAgent(ctx context.Context, a models.Agent) error {
	return t.exec(ctx, `INSERT INTO agents (`+agentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.HumanID, a.Name, a.KeyPrefix, a.KeyHash, a.IsPrimary, a.WebhookURL, a.LastSeenAt, a.CreatedAt)
}

func (t *tx) AgentByID(ctx context.Context, id models.AgentID) (models.Agent, error) {
	return scanAgent(t.tx.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
}

func (t *tx) AgentsByKeyPrefix(ctx context.Context, prefix string) ([]models.Agent, error) {
	return queryAll(ctx, t.tx, scanAgent, `SELECT `+agentColumns+` FROM agents WHERE key_prefix = $1`, prefix)
}

func (t *tx) AgentsByHuman(ctx context.Context, human models.HumanID) ([]models.Agent, error) {
	return queryAll(ctx, t.tx, scanAgent,
		`SELECT `+agentColumns+` FROM agents WHERE human_id = $1 ORDER BY is_primary DESC, created_at, id`, human)
}

func (t *tx) UpdateAgent(ctx context.Context, a models.Agent) error {
	return t.execOne(ctx, `UPDATE agents SET name = $2, key_prefix = $3, key_hash = $4, is_primary = $5,
		webhook_url = $6, last_seen_at = $7 WHERE id = $1`,
		a.ID, a.Name, a.KeyPrefix, a.KeyHash, a.IsPrimary, a.WebhookURL, a.LastSeenAt)
}

// Invites

func scanInvite(row pgx.Row) (models.Invite, error) {
	var inv models.Invite
	err := row.Scan(&inv.ID, &inv.Code, &inv.CreatedBy, &inv.ConsumedBy, &inv.Used, &inv.CreatedAt, &inv.ExpiresAt)
	return inv, mapErr(err)
}

func (t *tx) InsertInvite(ctx context.Context, inv models.Invite) error {
	return t.exec(ctx, `INSERT INTO invites (`+inviteColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.Code, inv.CreatedBy, inv.ConsumedBy, inv.Used, inv.CreatedAt, inv.ExpiresAt)
}

func (t *tx) InviteByCode(ctx context.Context, code string) (models.Invite, error) {
	return scanInvite(t.tx.QueryRow(ctx, `SELECT `+inviteColumns+` FROM invites WHERE code = $1 FOR UPDATE`, code))
}

func (t *tx) UpdateInvite(ctx context.Context, inv models.Invite) error {
	return t.execOne(ctx, `UPDATE invites SET consumed_by = $2, used = $3, expires_at = $4 WHERE id = $1`,
		inv.ID, inv.ConsumedBy, inv.Used, inv.ExpiresAt)
}

func (t *tx) DeleteDeadInvites(ctx context.Context, before time.Time) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM invites WHERE expires_at < $1 OR (used AND created_at < $1)`, before)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

// Connections

func scanConnection(row pgx.Row) (models.Connection, error) {
	var c models.Connection
	err := row.Scan(&c.ID, &c.HumanA, &c.HumanB, &c.Status, &c.ContractType, &c.CreatedAt)
	return c, mapErr(err)
}

func (t *tx) InsertConnection(ctx context.Context, c models.Connection) error {
	return t.exec(ctx, `INSERT INTO connections (`+connectionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.HumanA, c.HumanB, c.Status, c.ContractType, c.CreatedAt)
}

func (t *tx) ConnectionByID(ctx context.Context, id string) (models.Connection, error) {
	return scanConnection(t.tx.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id))
}

func (t *tx) ActiveConnection(ctx context.Context, a, b models.HumanID) (models.Connection, error) {
	return scanConnection(t.tx.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections
		WHERE status = 'active'
		  AND ((human_a_id = $1 AND human_b_id = $2) OR (human_a_id = $2 AND human_b_id = $1))`, a, b))
}

func (t *tx) ActiveConnectionsFor(ctx context.Context, human models.HumanID) ([]models.Connection, error) {
	return queryAll(ctx, t.tx, scanConnection, `SELECT `+connectionColumns+` FROM connections
		WHERE status = 'active' AND (human_a_id = $1 OR human_b_id = $1)
		ORDER BY created_at DESC, id`, human)
}

func (t *tx) SetConnectionStatus(ctx context.Context, id, status string) error {
	return t.execOne(ctx, `UPDATE connections SET status = $2 WHERE id = $1`, id, status)
}

// Permissions

func scanPermission(row pgx.Row) (models.Permission, error) {
	var p models.Permission
	err := row.Scan(&p.ConnectionID, &p.HumanID, &p.Category, &p.Outbound, &p.Inbound, &p.UpdatedAt)
	return p, mapErr(err)
}

func (t *tx) InsertPermissions(ctx context.Context, perms []models.Permission) error {
	batch := &pgx.Batch{}
	for _, p := range perms {
		batch.Queue(`INSERT INTO permissions (`+permissionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ConnectionID, p.HumanID, p.Category, p.Outbound, p.Inbound, p.UpdatedAt)
	}
	return mapErr(t.tx.SendBatch(ctx, batch).Close())
}

func (t *tx) Permissions(ctx context.Context, connectionID string, human models.HumanID) ([]models.Permission, error) {
	return queryAll(ctx, t.tx, scanPermission, `SELECT `+permissionColumns+` FROM permissions
		WHERE connection_id = $1 AND human_id = $2 ORDER BY category`, connectionID, human)
}

func (t *tx) Permission(ctx context.Context, connectionID string, human models.HumanID, category string) (models.Permission, error) {
	return scanPermission(t.tx.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions
		WHERE connection_id = $1 AND human_id = $2 AND category = $3`, connectionID, human, category))
}

func (t *tx) UpsertPermission(ctx context.Context, p models.Permission) error {
	return t.exec(ctx, `INSERT INTO permissions (`+permissionColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (connection_id, human_id, category)
		DO UPDATE SET outbound_level = EXCLUDED.outbound_level, inbound_level = EXCLUDED.inbound_level,
		              updated_at = EXCLUDED.updated_at`,
		p.ConnectionID, p.HumanID, p.Category, p.Outbound, p.Inbound, p.UpdatedAt)
}

// Threads

func scanThread(row pgx.Row) (models.Thread, error) {
	var th models.Thread
	err := row.Scan(&th.ID, &th.ConnectionID, &th.Subject, &th.Status, &th.CreatedAt, &th.LastActivityAt)
	return th, mapErr(err)
}

func (t *tx) InsertThread(ctx context.Context, th models.Thread) error {
	return t.exec(ctx, `INSERT INTO threads (`+threadColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		th.ID, th.ConnectionID, th.Subject, th.Status, th.CreatedAt, th.LastActivityAt)
}

func (t *tx) ThreadByID(ctx context.Context, id string) (models.Thread, error) {
	return scanThread(t.tx.QueryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE id = $1`, id))
}

func (t *tx) TouchThread(ctx context.Context, id string, at time.Time) error {
	return t.execOne(ctx, `UPDATE threads SET last_activity_at = $2 WHERE id = $1`, id, at)
}

func (t *tx) ThreadsForConnections(ctx context.Context, connectionIDs []string) ([]models.Thread, error) {
	return queryAll(ctx, t.tx, scanThread, `SELECT `+threadColumns+` FROM threads
		WHERE connection_id = ANY($1) ORDER BY last_activity_at DESC, created_at DESC, id`, connectionIDs)
}

// Messages

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.ThreadID, &m.FromAgentID, &m.ToAgentID, &m.Type, &m.Category,
		&m.Content, &m.Status, &m.CreatedAt, &m.AcknowledgedAt)
	return m, mapErr(err)
}

func (t *tx) InsertMessage(ctx context.Context, m models.Message) error {
	return t.exec(ctx, `INSERT INTO messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.ThreadID, m.FromAgentID, m.ToAgentID, m.Type, m.Category, m.Content, m.Status, m.CreatedAt, m.AcknowledgedAt)
}

func (t *tx) MessageByID(ctx context.Context, id string) (models.Message, error) {
	return scanMessage(t.tx.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
}

func (t *tx) ThreadMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	return queryAll(ctx, t.tx, scanMessage, `SELECT `+messageColumns+` FROM messages
		WHERE thread_id = $1 ORDER BY created_at, seq`, threadID)
}

// ClaimSent locks the pending rows it picks and skips rows another poller
// holds, so concurrent claims never overlap.
func (t *tx) ClaimSent(ctx context.Context, agent models.AgentID, limit int) ([]models.Message, error) {
	return queryAll(ctx, t.tx, scanMessage, `WITH picked AS (
			SELECT id FROM messages
			WHERE to_agent_id = $1 AND status = 'sent'
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		), claimed AS (
			UPDATE messages m SET status = 'delivered'
			FROM picked WHERE m.id = picked.id AND m.status = 'sent'
			RETURNING m.*
		)
		SELECT `+messageColumns+` FROM claimed ORDER BY created_at DESC, seq DESC`, agent, limit)
}

func (t *tx) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE messages SET status = 'read', acknowledged_at = $2
		WHERE id = $1 AND status <> 'read'`, id, at)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

// Announcements

func scanAnnouncement(row pgx.Row) (models.Announcement, error) {
	var a models.Announcement
	err := row.Scan(&a.ID, &a.Title, &a.Content, &a.Version, &a.Active, &a.CreatedAt)
	return a, mapErr(err)
}

func (t *tx) InsertAnnouncement(ctx context.Context, a models.Announcement) error {
	return t.exec(ctx, `INSERT INTO announcements (`+announcementColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Title, a.Content, a.Version, a.Active, a.CreatedAt)
}

func (t *tx) AnnouncementByID(ctx context.Context, id string) (models.Announcement, error) {
	return scanAnnouncement(t.tx.QueryRow(ctx, `SELECT `+announcementColumns+` FROM announcements WHERE id = $1`, id))
}

func (t *tx) ListAnnouncements(ctx context.Context) ([]models.Announcement, error) {
	return queryAll(ctx, t.tx, scanAnnouncement, `SELECT `+announcementColumns+` FROM announcements
		ORDER BY created_at DESC, seq DESC`)
}

func (t *tx) SetAnnouncementActive(ctx context.Context, id string, active bool) error {
	return t.execOne(ctx, `UPDATE announcements SET active = $2 WHERE id = $1`, id, active)
}

// ClaimUnreadAnnouncements keeps only the announcements whose read row this
// transaction inserted. A concurrent claim for the same agent may have
// selected the same rows; whichever commits its insert first owns them.
func (t *tx) ClaimUnreadAnnouncements(ctx context.Context, agent models.AgentID, at time.Time) ([]models.Announcement, error) {
	anns, err := queryAll(ctx, t.tx, scanAnnouncement, `SELECT `+announcementColumns+` FROM announcements a
		WHERE a.active AND NOT EXISTS (
			SELECT 1 FROM announcement_reads r WHERE r.announcement_id = a.id AND r.agent_id = $1
		)
		ORDER BY a.created_at, a.seq`, agent)
	if err != nil || len(anns) == 0 {
		return anns, err
	}
	ids := make([]string, 0, len(anns))
	for _, a := range anns {
		ids = append(ids, a.ID)
	}
	inserted, err := queryAll(ctx, t.tx, scanString, `INSERT INTO announcement_reads (announcement_id, agent_id, read_at)
		SELECT unnest($1::text[]), $2::uuid, $3::timestamptz
		ON CONFLICT DO NOTHING
		RETURNING announcement_id`, ids, agent, at)
	if err != nil {
		return nil, err
	}
	claimed := make(map[string]bool, len(inserted))
	for _, id := range inserted {
		claimed[id] = true
	}
	out := anns[:0]
	for _, a := range anns {
		if claimed[a.ID] {
			out = append(out, a)
		}
	}
	return out, nil
}

func scanString(row pgx.Row) (string, error) {
	var s string
	err := row.Scan(&s)
	return s, mapErr(err)
}

// queryAll runs sql and scans every row with scan.
func queryAll[T any](ctx context.Context, q pgx.Tx, scan func(pgx.Row) (T, error), sql string, args ...any) ([]T, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, mapErr(rows.Err())
}
