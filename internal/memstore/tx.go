package memstore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/stoik/cex/internal/models"
	"github.com/stoik/cex/internal/relay"
)

type tx struct {
	st *state
}

var _ relay.Tx = (*tx)(nil)

func (t *tx) InsertHuman(_ context.Context, h models.Human) error {
	if _, ok := t.st.humans[h.ID]; ok {
		return relay.ErrDuplicate
	}
	for _, other := range t.st.humans {
		if strings.EqualFold(other.Email, h.Email) {
			return relay.ErrDuplicate
		}
	}
	t.st.humans[h.ID] = h
	return nil
}

func (t *tx) HumanByID(_ context.Context, id models.HumanID) (models.Human, error) {
	h, ok := t.st.humans[id]
	if !ok {
		return models.Human{}, relay.ErrNoRows
	}
	return h, nil
}

func (t *tx) HumanByEmail(_ context.Context, email string) (models.Human, error) {
	for _, h := range t.st.humans {
		if strings.EqualFold(h.Email, email) {
			return h, nil
		}
	}
	return models.Human{}, relay.ErrNoRows
}

func (t *tx) InsertAgent(_ context.Context, a models.Agent) error {
	if _, ok := t.st.agents[a.ID]; ok {
		return relay.ErrDuplicate
	}
	t.st.agents[a.ID] = a
	return nil
}

func (t *tx) AgentByID(_ context.Context, id models.AgentID) (models.Agent, error) {
	a, ok := t.st.agents[id]
	if !ok {
		return models.Agent{}, relay.ErrNoRows
	}
	return a, nil
}

func (t *tx) AgentsByKeyPrefix(_ context.Context, prefix string) ([]models.Agent, error) {
	var out []models.Agent
	for _, a := range t.st.agents {
		if a.KeyPrefix == prefix {
			out = append(out, a)
		}
	}
	return out, nil
}

func (t *tx) AgentsByHuman(_ context.Context, human models.HumanID) ([]models.Agent, error) {
	var out []models.Agent
	for _, a := range t.st.agents {
		if a.HumanID == human {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b models.Agent) int {
		if a.IsPrimary != b.IsPrimary {
			if a.IsPrimary {
				return -1
			}
			return 1
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (t *tx) UpdateAgent(_ context.Context, a models.Agent) error {
	if _, ok := t.st.agents[a.ID]; !ok {
		return relay.ErrNoRows
	}
	t.st.agents[a.ID] = a
	return nil
}

func (t *tx) InsertInvite(_ context.Context, inv models.Invite) error {
	if _, ok := t.st.invites[inv.Code]; ok {
		return relay.ErrDuplicate
	}
	t.st.invites[inv.Code] = inv
	return nil
}

func (t *tx) InviteByCode(_ context.Context, code string) (models.Invite, error) {
	inv, ok := t.st.invites[code]
	if !ok {
		return models.Invite{}, relay.ErrNoRows
	}
	return inv, nil
}

func (t *tx) UpdateInvite(_ context.Context, inv models.Invite) error {
	if _, ok := t.st.invites[inv.Code]; !ok {
		return relay.ErrNoRows
	}
	t.st.invites[inv.Code] = inv
	return nil
}

func (t *tx) DeleteDeadInvites(_ context.Context, before time.Time) (int64, error) {
	var n int64
	for code, inv := range t.st.invites {
		if inv.ExpiresAt.Before(before) || (inv.Used && inv.CreatedAt.Before(before)) {
			delete(t.st.invites, code)
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertConnection(_ context.Context, c models.Connection) error {
	if _, ok := t.st.connections[c.ID]; ok {
		return relay.ErrDuplicate
	}
	if c.Status == models.ConnectionActive {
		if _, err := t.ActiveConnection(context.Background(), c.HumanA, c.HumanB); err == nil {
			return relay.ErrDuplicate
		}
	}
	t.st.connections[c.ID] = c
	return nil
}

func (t *tx) ConnectionByID(_ context.Context, id string) (models.Connection, error) {
	c, ok := t.st.connections[id]
	if !ok {
		return models.Connection{}, relay.ErrNoRows
	}
	return c, nil
}

func (t *tx) ActiveConnection(_ context.Context, a, b models.HumanID) (models.Connection, error) {
	for _, c := range t.st.connections {
		if c.Status == models.ConnectionActive && c.Involves(a) && c.Other(a) == b {
			return c, nil
		}
	}
	return models.Connection{}, relay.ErrNoRows
}

func (t *tx) ActiveConnectionsFor(_ context.Context, human models.HumanID) ([]models.Connection, error) {
	var out []models.Connection
	for _, c := range t.st.connections {
		if c.Status == models.ConnectionActive && c.Involves(human) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b models.Connection) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *tx) SetConnectionStatus(_ context.Context, id, status string) error {
	c, ok := t.st.connections[id]
	if !ok {
		return relay.ErrNoRows
	}
	c.Status = status
	t.st.connections[id] = c
	return nil
}

func (t *tx) InsertPermissions(_ context.Context, perms []models.Permission) error {
	for _, p := range perms {
		k := permKey{p.ConnectionID, p.HumanID, p.Category}
		if _, ok := t.st.permissions[k]; ok {
			return relay.ErrDuplicate
		}
		t.st.permissions[k] = p
	}
	return nil
}

func (t *tx) Permissions(_ context.Context, connectionID string, human models.HumanID) ([]models.Permission, error) {
	var out []models.Permission
	for k, p := range t.st.permissions {
		if k.conn == connectionID && k.human == human {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b models.Permission) int {
		return cmp.Compare(a.Category, b.Category)
	})
	return out, nil
}

func (t *tx) Permission(_ context.Context, connectionID string, human models.HumanID, category string) (models.Permission, error) {
	p, ok := t.st.permissions[permKey{connectionID, human, category}]
	if !ok {
		return models.Permission{}, relay.ErrNoRows
	}
	return p, nil
}

func (t *tx) UpsertPermission(_ context.Context, p models.Permission) error {
	t.st.permissions[permKey{p.ConnectionID, p.HumanID, p.Category}] = p
	return nil
}

func (t *tx) InsertThread(_ context.Context, th models.Thread) error {
	if _, ok := t.st.threads[th.ID]; ok {
		return relay.ErrDuplicate
	}
	t.st.threads[th.ID] = th
	return nil
}

func (t *tx) ThreadByID(_ context.Context, id string) (models.Thread, error) {
	th, ok := t.st.threads[id]
	if !ok {
		return models.Thread{}, relay.ErrNoRows
	}
	return th, nil
}

func (t *tx) TouchThread(_ context.Context, id string, at time.Time) error {
	th, ok := t.st.threads[id]
	if !ok {
		return relay.ErrNoRows
	}
	th.LastActivityAt = at
	t.st.threads[id] = th
	return nil
}

func (t *tx) ThreadsForConnections(_ context.Context, connectionIDs []string) ([]models.Thread, error) {
	var out []models.Thread
	for _, th := range t.st.threads {
		if slices.Contains(connectionIDs, th.ConnectionID) {
			out = append(out, th)
		}
	}
	slices.SortFunc(out, func(a, b models.Thread) int {
		if c := b.LastActivityAt.Compare(a.LastActivityAt); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (t *tx) InsertMessage(_ context.Context, m models.Message) error {
	if _, ok := t.st.messages[m.ID]; ok {
		return relay.ErrDuplicate
	}
	t.st.messages[m.ID] = messageRow{Message: m, seq: t.st.next()}
	return nil
}

func (t *tx) MessageByID(_ context.Context, id string) (models.Message, error) {
	row, ok := t.st.messages[id]
	if !ok {
		return models.Message{}, relay.ErrNoRows
	}
	return row.Message, nil
}

func (t *tx) ThreadMessages(_ context.Context, threadID string) ([]models.Message, error) {
	rows := t.messagesWhere(func(m models.Message) bool { return m.ThreadID == threadID })
	slices.SortFunc(rows, func(a, b messageRow) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return unwrapMessages(rows), nil
}

func (t *tx) ClaimSent(_ context.Context, agent models.AgentID, limit int) ([]models.Message, error) {
	rows := t.messagesWhere(func(m models.Message) bool {
		return m.ToAgentID == agent && m.Status == models.StatusSent
	})
	slices.SortFunc(rows, func(a, b messageRow) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		advance(&rows[i], models.StatusDelivered)
		t.st.messages[rows[i].ID] = rows[i]
	}
	return unwrapMessages(rows), nil
}

func (t *tx) MarkRead(_ context.Context, id string, at time.Time) (bool, error) {
	row, ok := t.st.messages[id]
	if !ok {
		return false, relay.ErrNoRows
	}
	if !advance(&row, models.StatusRead) {
		return false, nil
	}
	row.AcknowledgedAt = &at
	t.st.messages[id] = row
	return true, nil
}

// advance moves row to status if that is strictly forward.
func advance(row *messageRow, status string) bool {
	if models.StatusRank(status) <= models.StatusRank(row.Status) {
		return false
	}
	row.Status = status
	return true
}

func (t *tx) messagesWhere(keep func(models.Message) bool) []messageRow {
	var rows []messageRow
	for _, row := range t.st.messages {
		if keep(row.Message) {
			rows = append(rows, row)
		}
	}
	return rows
}

func unwrapMessages(rows []messageRow) []models.Message {
	out := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Message)
	}
	return out
}

func (t *tx) InsertAnnouncement(_ context.Context, a models.Announcement) error {
	if _, ok := t.st.announcements[a.ID]; ok {
		return relay.ErrDuplicate
	}
	t.st.announcements[a.ID] = announcementRow{Announcement: a, seq: t.st.next()}
	return nil
}

func (t *tx) AnnouncementByID(_ context.Context, id string) (models.Announcement, error) {
	row, ok := t.st.announcements[id]
	if !ok {
		return models.Announcement{}, relay.ErrNoRows
	}
	return row.Announcement, nil
}

func (t *tx) ListAnnouncements(_ context.Context) ([]models.Announcement, error) {
	rows := t.announcementsWhere(func(announcementRow) bool { return true })
	slices.Reverse(rows)
	return unwrapAnnouncements(rows), nil
}

func (t *tx) SetAnnouncementActive(_ context.Context, id string, active bool) error {
	row, ok := t.st.announcements[id]
	if !ok {
		return relay.ErrNoRows
	}
	row.Active = active
	t.st.announcements[id] = row
	return nil
}

func (t *tx) ClaimUnreadAnnouncements(_ context.Context, agent models.AgentID, at time.Time) ([]models.Announcement, error) {
	rows := t.announcementsWhere(func(row announcementRow) bool {
		if !row.Active {
			return false
		}
		_, seen := t.st.reads[readKey{row.ID, agent}]
		return !seen
	})
	for _, row := range rows {
		t.st.reads[readKey{row.ID, agent}] = models.AnnouncementRead{
			AnnouncementID: row.ID,
			AgentID:        agent,
			ReadAt:         at,
		}
	}
	return unwrapAnnouncements(rows), nil
}

// announcementsWhere returns matching rows oldest first.
func (t *tx) announcementsWhere(keep func(announcementRow) bool) []announcementRow {
	var rows []announcementRow
	for _, row := range t.st.announcements {
		if keep(row) {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b announcementRow) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	return rows
}

func unwrapAnnouncements(rows []announcementRow) []models.Announcement {
	out := make([]models.Announcement, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Announcement)
	}
	return out
}
