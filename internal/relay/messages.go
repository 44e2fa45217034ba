package relay

import (
	"context"
	"errors"
	"strings"

	"github.com/stoik/cex/internal/metrics"
	"github.com/stoik/cex/internal/models"
)

// DefaultMessageType labels messages sent without an explicit type.
const DefaultMessageType = "text"

// SendRequest is one message from the calling agent.
type SendRequest struct {
	To            models.AgentID
	Content       string
	Type          string
	Category      *string
	ThreadID      *string
	ThreadSubject *string
}

// ThreadDetail is a thread with its messages in creation order.
type ThreadDetail struct {
	Thread   models.Thread    `json:"thread"`
	Messages []models.Message `json:"messages"`
}

// Send validates, authorizes and persists a message. The recipient's
// webhook, if any, is notified after the message is committed.
func (s *Service) Send(ctx context.Context, sender models.Agent, req SendRequest) (models.Message, error) {
	if req.To == sender.ID {
		return models.Message{}, ErrSelfMessage
	}
	if strings.TrimSpace(req.Content) == "" {
		return models.Message{}, ErrEmptyContent
	}
	if req.Type == "" {
		req.Type = DefaultMessageType
	}
	if req.Category != nil && *req.Category == "" {
		req.Category = nil
	}
	if req.ThreadID != nil && *req.ThreadID == "" {
		req.ThreadID = nil
	}

	var (
		msg       models.Message
		recipient models.Agent
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		recipient, err = tx.AgentByID(ctx, req.To)
		if errors.Is(err, ErrNoRows) {
			return ErrRecipientNotFound
		}
		if err != nil {
			return err
		}

		conn, err := tx.ActiveConnection(ctx, sender.HumanID, recipient.HumanID)
		if errors.Is(err, ErrNoRows) {
			return ErrNotConnected
		}
		if err != nil {
			return err
		}

		decision, err := CanDeliver(ctx, tx, sender.HumanID, recipient.HumanID, conn, req.Category)
		if err != nil {
			return err
		}
		if !decision.Allowed() {
			return decision.Err()
		}

		thread, err := s.resolveThread(ctx, tx, conn, req)
		if err != nil {
			return err
		}

		now := s.now()
		msg = models.Message{
			ID:          newID(),
			ThreadID:    thread.ID,
			FromAgentID: sender.ID,
			ToAgentID:   recipient.ID,
			Type:        req.Type,
			Category:    req.Category,
			Content:     req.Content,
			Status:      models.StatusSent,
			CreatedAt:   now,
		}
		if err := tx.InsertMessage(ctx, msg); err != nil {
			return err
		}
		return tx.TouchThread(ctx, thread.ID, now)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrOutboundBlocked):
			metrics.MessagesBlocked.WithLabelValues("outbound").Inc()
		case errors.Is(err, ErrInboundBlocked):
			metrics.MessagesBlocked.WithLabelValues("inbound").Inc()
		}
		return models.Message{}, internal("send message", err)
	}

	category := "none"
	if msg.Category != nil {
		category = *msg.Category
	}
	metrics.MessagesSent.WithLabelValues(category).Inc()

	if recipient.WebhookURL != nil {
		s.notifier.MessageCreated(recipient, msg)
	}
	return msg, nil
}

// resolveThread returns the requested thread of conn, or a new one.
func (s *Service) resolveThread(ctx context.Context, tx Tx, conn models.Connection, req SendRequest) (models.Thread, error) {
	if req.ThreadID != nil {
		thread, err := tx.ThreadByID(ctx, *req.ThreadID)
		if errors.Is(err, ErrNoRows) {
			return models.Thread{}, ErrThreadNotFound
		}
		if err != nil {
			return models.Thread{}, err
		}
		if thread.ConnectionID != conn.ID {
			return models.Thread{}, ErrThreadMismatch
		}
		return thread, nil
	}

	var subject *string
	if req.ThreadSubject != nil && *req.ThreadSubject != "" {
		subject = req.ThreadSubject
	}
	now := s.now()
	thread := models.Thread{
		ID:             newID(),
		ConnectionID:   conn.ID,
		Subject:        subject,
		Status:         "active",
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := tx.InsertThread(ctx, thread); err != nil {
		return models.Thread{}, err
	}
	return thread, nil
}

// Ack moves a message addressed to the caller to read. Acknowledging an
// already read message changes nothing.
func (s *Service) Ack(ctx context.Context, caller models.Agent, messageID string) (models.Message, error) {
	var (
		msg     models.Message
		changed bool
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		msg, err = tx.MessageByID(ctx, messageID)
		if errors.Is(err, ErrNoRows) {
			return ErrMessageNotFound
		}
		if err != nil {
			return err
		}
		if msg.ToAgentID != caller.ID {
			return ErrNotYourMessage
		}
		if msg.Status == models.StatusRead {
			return nil
		}
		now := s.now()
		changed, err = tx.MarkRead(ctx, msg.ID, now)
		if err != nil {
			return err
		}
		if changed {
			msg.Status = models.StatusRead
			msg.AcknowledgedAt = &now
		}
		return nil
	})
	if err != nil {
		return models.Message{}, internal("ack message", err)
	}
	if changed {
		metrics.MessagesRead.Inc()
	}
	return msg, nil
}

// ListThreads returns the threads of the caller's active connections, most
// recently active first.
func (s *Service) ListThreads(ctx context.Context, caller models.Agent) ([]models.Thread, error) {
	var threads []models.Thread
	err := s.store.InTx(ctx, func(tx Tx) error {
		conns, err := tx.ActiveConnectionsFor(ctx, caller.HumanID)
		if err != nil {
			return err
		}
		if len(conns) == 0 {
			return nil
		}
		ids := make([]string, 0, len(conns))
		for _, c := range conns {
			ids = append(ids, c.ID)
		}
		threads, err = tx.ThreadsForConnections(ctx, ids)
		return err
	})
	if err != nil {
		return nil, internal("list threads", err)
	}
	if threads == nil {
		threads = []models.Thread{}
	}
	return threads, nil
}

// GetThread returns a thread of one of the caller's connections, including
// removed ones, with all of its messages.
func (s *Service) GetThread(ctx context.Context, caller models.Agent, threadID string) (ThreadDetail, error) {
	var detail ThreadDetail
	err := s.store.InTx(ctx, func(tx Tx) error {
		thread, err := tx.ThreadByID(ctx, threadID)
		if errors.Is(err, ErrNoRows) {
			return ErrThreadNotFound
		}
		if err != nil {
			return err
		}
		conn, err := tx.ConnectionByID(ctx, thread.ConnectionID)
		if err != nil {
			return err
		}
		if !conn.Involves(caller.HumanID) {
			return ErrNotYourThread
		}
		msgs, err := tx.ThreadMessages(ctx, thread.ID)
		if err != nil {
			return err
		}
		if msgs == nil {
			msgs = []models.Message{}
		}
		detail = ThreadDetail{Thread: thread, Messages: msgs}
		return nil
	})
	if err != nil {
		return ThreadDetail{}, internal("get thread", err)
	}
	return detail, nil
}
