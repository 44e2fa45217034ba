package relay

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/stoik/cex/internal/models"
)

// ConnectedHuman describes the other side of a connection.
type ConnectedHuman struct {
	ID     models.HumanID     `json:"id"`
	Name   string             `json:"name"`
	Agents []models.AgentInfo `json:"agents"`
}

// ConnectionRecord is a connection seen from one of its humans.
type ConnectionRecord struct {
	ID             string         `json:"id"`
	ConnectedHuman ConnectedHuman `json:"connected_user"`
	Status         string         `json:"status"`
	ContractType   string         `json:"contract_type"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PermissionSet lists the caller's rows for every category of a connection.
type PermissionSet struct {
	ConnectionID string              `json:"connection_id"`
	Permissions  []models.Permission `json:"permissions"`
}

// PermissionUpdate changes one category. At least one level must be set.
type PermissionUpdate struct {
	Category string
	Outbound *string
	Inbound  *string
}

// CreateInvite issues a single-use invite code for the caller's human.
func (s *Service) CreateInvite(ctx context.Context, caller models.Agent) (models.Invite, error) {
	code, err := inviteCode()
	if err != nil {
		return models.Invite{}, internal("generate invite code", err)
	}
	now := s.now()
	inv := models.Invite{
		ID:        newID(),
		Code:      code,
		CreatedBy: caller.HumanID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.InviteTTL),
	}
	err = s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertInvite(ctx, inv)
	})
	if err != nil {
		return models.Invite{}, internal("create invite", err)
	}
	return inv, nil
}

// AcceptInvite consumes an invite and connects the caller's human with its
// creator, seeding permissions for both from the chosen contract.
func (s *Service) AcceptInvite(ctx context.Context, caller models.Agent, code, contract string) (ConnectionRecord, error) {
	var rec ConnectionRecord
	err := s.store.InTx(ctx, func(tx Tx) error {
		inv, err := tx.InviteByCode(ctx, code)
		if errors.Is(err, ErrNoRows) {
			return ErrInviteNotFound
		}
		if err != nil {
			return err
		}
		now := s.now()
		if inv.Used {
			return ErrInviteUsed
		}
		if !now.Before(inv.ExpiresAt) {
			return ErrInviteExpired
		}
		if inv.CreatedBy == caller.HumanID {
			return ErrSelfConnect
		}
		if _, err := tx.ActiveConnection(ctx, inv.CreatedBy, caller.HumanID); err == nil {
			return ErrAlreadyConnected
		} else if !errors.Is(err, ErrNoRows) {
			return err
		}
		preset, err := s.resolveContract(contract)
		if err != nil {
			return err
		}

		consumer := caller.HumanID
		inv.Used = true
		inv.ConsumedBy = &consumer
		if err := tx.UpdateInvite(ctx, inv); err != nil {
			return err
		}

		conn := models.Connection{
			ID:           newID(),
			HumanA:       inv.CreatedBy,
			HumanB:       caller.HumanID,
			Status:       models.ConnectionActive,
			ContractType: preset.Name,
			CreatedAt:    now,
		}
		if err := tx.InsertConnection(ctx, conn); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return ErrAlreadyConnected
			}
			return err
		}
		if err := tx.InsertPermissions(ctx, s.seedPermissions(conn, preset)); err != nil {
			return err
		}

		rec, err = s.connectionRecord(ctx, tx, conn, caller.HumanID)
		return err
	})
	if err != nil {
		return ConnectionRecord{}, internal("accept invite", err)
	}
	s.log.WithField("connection_id", rec.ID).WithField("contract", rec.ContractType).Info("Connection created")
	return rec, nil
}

// ListConnections returns the active connections of the caller's human.
func (s *Service) ListConnections(ctx context.Context, caller models.Agent) ([]ConnectionRecord, error) {
	var out []ConnectionRecord
	err := s.store.InTx(ctx, func(tx Tx) error {
		conns, err := tx.ActiveConnectionsFor(ctx, caller.HumanID)
		if err != nil {
			return err
		}
		out = make([]ConnectionRecord, 0, len(conns))
		for _, c := range conns {
			rec, err := s.connectionRecord(ctx, tx, c, caller.HumanID)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, internal("list connections", err)
	}
	return out, nil
}

// RemoveConnection marks a connection removed. History is kept; only new
// sends are refused.
func (s *Service) RemoveConnection(ctx context.Context, caller models.Agent, id string) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		conn, err := s.ownConnection(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		if conn.Status == models.ConnectionRemoved {
			return nil
		}
		return tx.SetConnectionStatus(ctx, conn.ID, models.ConnectionRemoved)
	})
	if err != nil {
		return internal("remove connection", err)
	}
	return nil
}

// GetPermissions returns the caller's rows for every configured category.
// Categories without a row are reported at their default levels.
func (s *Service) GetPermissions(ctx context.Context, caller models.Agent, connectionID string) (PermissionSet, error) {
	var set PermissionSet
	err := s.store.InTx(ctx, func(tx Tx) error {
		conn, err := s.ownConnection(ctx, tx, caller, connectionID)
		if err != nil {
			return err
		}
		rows, err := tx.Permissions(ctx, conn.ID, caller.HumanID)
		if err != nil {
			return err
		}
		byCategory := make(map[string]models.Permission, len(rows))
		for _, p := range rows {
			byCategory[p.Category] = p
		}
		set = PermissionSet{ConnectionID: conn.ID, Permissions: make([]models.Permission, 0, len(s.cfg.Categories))}
		for _, cat := range s.cfg.Categories {
			p, ok := byCategory[cat]
			if !ok {
				p = s.defaultPermission(conn.ID, caller.HumanID, cat)
			}
			set.Permissions = append(set.Permissions, p)
		}
		return nil
	})
	if err != nil {
		return PermissionSet{}, internal("get permissions", err)
	}
	return set, nil
}

// UpdatePermission changes the caller's outbound and/or inbound level for one
// category. The change applies to every agent of the caller's human at once.
func (s *Service) UpdatePermission(ctx context.Context, caller models.Agent, connectionID string, upd PermissionUpdate) (models.Permission, error) {
	if upd.Outbound == nil && upd.Inbound == nil {
		return models.Permission{}, ErrNoLevelGiven
	}
	if upd.Outbound != nil && !ValidLevel(*upd.Outbound) {
		return models.Permission{}, levelError("level", *upd.Outbound)
	}
	if upd.Inbound != nil && !ValidLevel(*upd.Inbound) {
		return models.Permission{}, levelError("inbound_level", *upd.Inbound)
	}
	if !s.validCategory(upd.Category) {
		return models.Permission{}, s.categoryError(upd.Category)
	}

	var perm models.Permission
	err := s.store.InTx(ctx, func(tx Tx) error {
		conn, err := s.ownConnection(ctx, tx, caller, connectionID)
		if err != nil {
			return err
		}
		perm, err = tx.Permission(ctx, conn.ID, caller.HumanID, upd.Category)
		if errors.Is(err, ErrNoRows) {
			perm = s.defaultPermission(conn.ID, caller.HumanID, upd.Category)
		} else if err != nil {
			return err
		}
		if upd.Outbound != nil {
			perm.Outbound = *upd.Outbound
		}
		if upd.Inbound != nil {
			perm.Inbound = *upd.Inbound
		}
		perm.UpdatedAt = s.now()
		return tx.UpsertPermission(ctx, perm)
	})
	if err != nil {
		return models.Permission{}, internal("update permission", err)
	}
	return perm, nil
}

func (s *Service) defaultPermission(connID string, h models.HumanID, category string) models.Permission {
	return models.Permission{
		ConnectionID: connID,
		HumanID:      h,
		Category:     category,
		Outbound:     DefaultOutboundLevel,
		Inbound:      DefaultInboundLevel,
		UpdatedAt:    s.now(),
	}
}

// ownConnection loads a connection the caller's human is part of.
func (s *Service) ownConnection(ctx context.Context, tx Tx, caller models.Agent, id string) (models.Connection, error) {
	conn, err := tx.ConnectionByID(ctx, id)
	if errors.Is(err, ErrNoRows) {
		return models.Connection{}, ErrConnectionNotFound
	}
	if err != nil {
		return models.Connection{}, err
	}
	if !conn.Involves(caller.HumanID) {
		return models.Connection{}, ErrNotYourConnection
	}
	return conn, nil
}

func (s *Service) connectionRecord(ctx context.Context, tx Tx, conn models.Connection, self models.HumanID) (ConnectionRecord, error) {
	otherID := conn.Other(self)
	other, err := tx.HumanByID(ctx, otherID)
	if err != nil {
		return ConnectionRecord{}, err
	}
	agents, err := tx.AgentsByHuman(ctx, otherID)
	if err != nil {
		return ConnectionRecord{}, err
	}
	infos := make([]models.AgentInfo, 0, len(agents))
	for _, a := range agents {
		infos = append(infos, a.Info())
	}
	return ConnectionRecord{
		ID:             conn.ID,
		ConnectedHuman: ConnectedHuman{ID: other.ID, Name: other.Name, Agents: infos},
		Status:         conn.Status,
		ContractType:   conn.ContractType,
		CreatedAt:      conn.CreatedAt,
	}, nil
}

// inviteCode returns 16 random bytes, URL-safe encoded.
func inviteCode() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// PruneInvites deletes invites that have been dead for longer than retention.
func (s *Service) PruneInvites(ctx context.Context, retention time.Duration) (int64, error) {
	var n int64
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		n, err = tx.DeleteDeadInvites(ctx, s.now().Add(-retention))
		return err
	})
	if err != nil {
		return 0, internal("prune invites", err)
	}
	return n, nil
}
