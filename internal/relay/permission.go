package relay

import (
	"context"
	"errors"

	"github.com/stoik/cex/internal/models"
)

// PermissionLookup fetches one permission row. It returns ErrNoRows when the
// row does not exist.
type PermissionLookup interface {
	Permission(ctx context.Context, connectionID string, human models.HumanID, category string) (models.Permission, error)
}

// Block says which side of a connection stopped a message.
type Block int

const (
	BlockNone Block = iota
	BlockOutbound
	BlockInbound
)

// Decision is the outcome of CanDeliver.
type Decision struct {
	Block    Block
	Category string
}

// Allowed reports whether the message may be delivered.
func (d Decision) Allowed() bool { return d.Block == BlockNone }

// Err converts a blocking decision into the error returned to the sender.
// The outbound variant names the category since it is the sender's own
// setting; the inbound variant stays generic.
func (d Decision) Err() error {
	switch d.Block {
	case BlockOutbound:
		return &Error{
			Kind:    KindForbidden,
			Code:    ErrPermissionDenied.Code,
			Message: "your permissions block sending '" + d.Category + "' messages on this connection",
			Err:     ErrOutboundBlocked,
		}
	case BlockInbound:
		return &Error{
			Kind:    KindForbidden,
			Code:    ErrPermissionDenied.Code,
			Message: ErrPermissionDenied.Message,
			Err:     ErrInboundBlocked,
		}
	}
	return nil
}

// CanDeliver decides whether sender may deliver a message of category to
// recipient over conn. Uncategorized messages are always allowed. Only a
// never level blocks; auto and ask are for the agents to interpret. A missing
// row counts as the default level.
func CanDeliver(ctx context.Context, lookup PermissionLookup, sender, recipient models.HumanID, conn models.Connection, category *string) (Decision, error) {
	if category == nil || *category == "" {
		return Decision{}, nil
	}
	cat := *category

	outbound, err := levelFor(ctx, lookup, conn.ID, sender, cat, true)
	if err != nil {
		return Decision{}, err
	}
	if outbound == models.LevelNever {
		return Decision{Block: BlockOutbound, Category: cat}, nil
	}

	inbound, err := levelFor(ctx, lookup, conn.ID, recipient, cat, false)
	if err != nil {
		return Decision{}, err
	}
	if inbound == models.LevelNever {
		return Decision{Block: BlockInbound, Category: cat}, nil
	}
	return Decision{Category: cat}, nil
}

func levelFor(ctx context.Context, lookup PermissionLookup, connID string, h models.HumanID, category string, outbound bool) (string, error) {
	p, err := lookup.Permission(ctx, connID, h, category)
	if errors.Is(err, ErrNoRows) {
		if outbound {
			return DefaultOutboundLevel, nil
		}
		return DefaultInboundLevel, nil
	}
	if err != nil {
		return "", err
	}
	if outbound {
		return p.Outbound, nil
	}
	return p.Inbound, nil
}
