package relay

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stoik/cex/internal/metrics"
	"github.com/stoik/cex/internal/models"
)

// Envelope is what inbox and stream return.
type Envelope struct {
	Messages            []models.Message      `json:"messages"`
	Count               int                   `json:"count"`
	Announcements       []models.Announcement `json:"announcements"`
	InstructionsVersion string                `json:"instructions_version"`
}

func (s *Service) envelope(msgs []models.Message, anns []models.Announcement) Envelope {
	if msgs == nil {
		msgs = []models.Message{}
	}
	if anns == nil {
		anns = []models.Announcement{}
	}
	for i := range anns {
		anns[i].Source = models.AnnouncementSource
	}
	return Envelope{
		Messages:            msgs,
		Count:               len(msgs),
		Announcements:       anns,
		InstructionsVersion: s.cfg.InstructionsVersion,
	}
}

// InboxLimit applies the default and bounds to a requested inbox limit;
// zero selects the default.
func (s *Service) InboxLimit(limit int) (int, error) {
	if limit == 0 {
		return s.cfg.InboxDefaultLimit, nil
	}
	if limit < 1 || limit > s.cfg.InboxMaxLimit {
		return 0, ErrInvalidLimit.withMessage("limit must be between 1 and %d", s.cfg.InboxMaxLimit)
	}
	return limit, nil
}

// StreamTimeout applies the default and bounds to a requested stream
// timeout; zero selects the default.
func (s *Service) StreamTimeout(timeout time.Duration) (time.Duration, error) {
	if timeout == 0 {
		return s.cfg.StreamDefaultTimeout, nil
	}
	if timeout < time.Second || timeout > s.cfg.StreamMaxTimeout {
		return 0, ErrInvalidTimeout.withMessage("timeout must be between 1 and %d seconds", int(s.cfg.StreamMaxTimeout/time.Second))
	}
	return timeout, nil
}

// Inbox returns up to limit sent messages for the agent, newest first, and
// every unread announcement, marking all of them delivered in one
// transaction.
func (s *Service) Inbox(ctx context.Context, agent models.Agent, limit int) (Envelope, error) {
	limit, err := s.InboxLimit(limit)
	if err != nil {
		return Envelope{}, err
	}
	msgs, anns, err := s.deliver(ctx, agent.ID, limit, false)
	if err != nil {
		return Envelope{}, internal("inbox", err)
	}
	metrics.MessagesDelivered.WithLabelValues("inbox").Add(float64(len(msgs)))
	return s.envelope(msgs, anns), nil
}

// Stream long-polls for messages. It checks once per poll interval and
// returns as soon as a batch was delivered. Announcements only ride along
// with a non-empty batch; an empty result after the timeout carries none.
// Every check is its own transaction, so nothing is held across the sleeps.
func (s *Service) Stream(ctx context.Context, agent models.Agent, timeout time.Duration) (Envelope, error) {
	timeout, err := s.StreamTimeout(timeout)
	if err != nil {
		return Envelope{}, err
	}

	metrics.StreamActive.Inc()
	defer metrics.StreamActive.Dec()
	start := time.Now()
	deadline := start.Add(timeout)
	log := s.log.WithFields(logrus.Fields{"agent_id": agent.ID, "timeout": timeout})

	for {
		msgs, anns, err := s.deliver(ctx, agent.ID, s.cfg.StreamBatchLimit, true)
		switch {
		case err != nil && ctx.Err() != nil:
			metrics.StreamWait.WithLabelValues("cancelled").Observe(time.Since(start).Seconds())
			return Envelope{}, ctx.Err()
		case err != nil:
			metrics.PollErrors.Inc()
			log.WithError(err).Warn("Stream poll failed, retrying")
		case len(msgs) > 0:
			metrics.MessagesDelivered.WithLabelValues("stream").Add(float64(len(msgs)))
			metrics.StreamWait.WithLabelValues("messages").Observe(time.Since(start).Seconds())
			return s.envelope(msgs, anns), nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			metrics.StreamWait.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
			return s.envelope(nil, nil), nil
		}
		wait := min(s.cfg.PollInterval, remaining)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			metrics.StreamWait.WithLabelValues("cancelled").Observe(time.Since(start).Seconds())
			return Envelope{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// deliver claims pending messages and, unless onlyWithMessages is set and
// there are none, unread announcements, all within one transaction.
func (s *Service) deliver(ctx context.Context, agent models.AgentID, limit int, onlyWithMessages bool) ([]models.Message, []models.Announcement, error) {
	var (
		msgs []models.Message
		anns []models.Announcement
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		msgs, err = tx.ClaimSent(ctx, agent, limit)
		if err != nil {
			return err
		}
		if onlyWithMessages && len(msgs) == 0 {
			return nil
		}
		anns, err = tx.ClaimUnreadAnnouncements(ctx, agent, s.now())
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	metrics.AnnouncementsDelivered.Add(float64(len(anns)))
	return msgs, anns, nil
}
