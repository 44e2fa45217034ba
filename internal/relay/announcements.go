package relay

import (
	"context"
	"errors"
	"strings"

	"github.com/stoik/cex/internal/models"
)

// CreateAnnouncement publishes an active announcement. Every agent receives
// it once, on its next delivery.
func (s *Service) CreateAnnouncement(ctx context.Context, title, content, version string) (models.Announcement, error) {
	title = strings.TrimSpace(title)
	if title == "" || strings.TrimSpace(content) == "" {
		return models.Announcement{}, ErrInvalidAnnouncement
	}
	if version == "" {
		version = s.cfg.InstructionsVersion
	}
	ann := models.Announcement{
		ID:        newID(),
		Title:     title,
		Content:   content,
		Version:   version,
		Active:    true,
		Source:    models.AnnouncementSource,
		CreatedAt: s.now(),
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		return tx.InsertAnnouncement(ctx, ann)
	})
	if err != nil {
		return models.Announcement{}, internal("create announcement", err)
	}
	s.log.WithField("announcement_id", ann.ID).Info("Announcement published")
	return ann, nil
}

// ListAnnouncements returns every announcement, active or not, newest first.
func (s *Service) ListAnnouncements(ctx context.Context) ([]models.Announcement, error) {
	var anns []models.Announcement
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		anns, err = tx.ListAnnouncements(ctx)
		return err
	})
	if err != nil {
		return nil, internal("list announcements", err)
	}
	if anns == nil {
		anns = []models.Announcement{}
	}
	for i := range anns {
		anns[i].Source = models.AnnouncementSource
	}
	return anns, nil
}

// DeactivateAnnouncement stops further deliveries. The row is kept.
func (s *Service) DeactivateAnnouncement(ctx context.Context, id string) (models.Announcement, error) {
	var ann models.Announcement
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		ann, err = tx.AnnouncementByID(ctx, id)
		if errors.Is(err, ErrNoRows) {
			return ErrAnnouncementNotFound
		}
		if err != nil {
			return err
		}
		ann.Active = false
		return tx.SetAnnouncementActive(ctx, id, false)
	})
	if err != nil {
		return models.Announcement{}, internal("deactivate announcement", err)
	}
	ann.Source = models.AnnouncementSource
	return ann, nil
}
