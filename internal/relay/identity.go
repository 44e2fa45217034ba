package relay

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/stoik/cex/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix starts every agent API key so keys are recognizable in logs.
const KeyPrefix = "cex_"

const (
	keySecretBytes  = 32
	keyLookupLength = 12
	lastSeenEvery   = time.Minute
)

// RegisterRequest creates a human together with its primary agent.
type RegisterRequest struct {
	Email      string
	Name       string
	AgentName  string
	WebhookURL *string
}

// Registration is returned once per created agent. APIKey is never stored.
type Registration struct {
	Human  models.Human
	Agent  models.Agent
	APIKey string
}

// Register creates an unverified human and its primary agent.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Registration, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	req.AgentName = strings.TrimSpace(req.AgentName)
	if !strings.Contains(req.Email, "@") || req.Name == "" || req.AgentName == "" {
		return Registration{}, ErrInvalidRegistration
	}
	webhook, err := s.normalizeWebhook(req.WebhookURL)
	if err != nil {
		return Registration{}, err
	}
	key, prefix, hash, err := s.newKey()
	if err != nil {
		return Registration{}, internal("generate key", err)
	}

	var reg Registration
	err = s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.HumanByEmail(ctx, req.Email); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, ErrNoRows) {
			return err
		}

		human := models.Human{
			ID:        models.NewHumanID(),
			Email:     req.Email,
			Name:      req.Name,
			CreatedAt: s.now(),
		}
		if err := tx.InsertHuman(ctx, human); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return ErrEmailTaken
			}
			return err
		}
		agent, err := s.createAgent(ctx, tx, human.ID, req.AgentName, webhook, prefix, hash)
		if err != nil {
			return err
		}
		reg = Registration{Human: human, Agent: agent, APIKey: key}
		return nil
	})
	if err != nil {
		return Registration{}, internal("register", err)
	}
	s.log.WithField("agent_id", reg.Agent.ID).WithField("human_id", reg.Human.ID).Info("Registered human and primary agent")
	return reg, nil
}

// AddAgent creates another agent for the caller's human.
func (s *Service) AddAgent(ctx context.Context, caller models.Agent, name string, webhookURL *string) (Registration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Registration{}, ErrInvalidRegistration.withMessage("agent_name is required")
	}
	webhook, err := s.normalizeWebhook(webhookURL)
	if err != nil {
		return Registration{}, err
	}
	key, prefix, hash, err := s.newKey()
	if err != nil {
		return Registration{}, internal("generate key", err)
	}

	var reg Registration
	err = s.store.InTx(ctx, func(tx Tx) error {
		human, err := tx.HumanByID(ctx, caller.HumanID)
		if err != nil {
			return err
		}
		agent, err := s.createAgent(ctx, tx, human.ID, name, webhook, prefix, hash)
		if err != nil {
			return err
		}
		reg = Registration{Human: human, Agent: agent, APIKey: key}
		return nil
	})
	if err != nil {
		return Registration{}, internal("add agent", err)
	}
	return reg, nil
}

// createAgent inserts an agent; the first agent of a human becomes primary.
func (s *Service) createAgent(ctx context.Context, tx Tx, human models.HumanID, name string, webhook *string, prefix, hash string) (models.Agent, error) {
	existing, err := tx.AgentsByHuman(ctx, human)
	if err != nil {
		return models.Agent{}, err
	}
	now := s.now()
	agent := models.Agent{
		ID:         models.NewAgentID(),
		HumanID:    human,
		Name:       name,
		KeyPrefix:  prefix,
		KeyHash:    hash,
		IsPrimary:  len(existing) == 0,
		WebhookURL: webhook,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := tx.InsertAgent(ctx, agent); err != nil {
		return models.Agent{}, err
	}
	return agent, nil
}

// ListAgents returns every agent of the caller's human.
func (s *Service) ListAgents(ctx context.Context, caller models.Agent) ([]models.Agent, error) {
	var agents []models.Agent
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		agents, err = tx.AgentsByHuman(ctx, caller.HumanID)
		return err
	})
	if err != nil {
		return nil, internal("list agents", err)
	}
	return agents, nil
}

// UpdateWebhook sets or, with an empty string, clears the caller's webhook URL.
func (s *Service) UpdateWebhook(ctx context.Context, caller models.Agent, raw string) (models.Agent, error) {
	webhook, err := s.normalizeWebhook(&raw)
	if err != nil {
		return models.Agent{}, err
	}
	var agent models.Agent
	err = s.store.InTx(ctx, func(tx Tx) error {
		var err error
		agent, err = tx.AgentByID(ctx, caller.ID)
		if errors.Is(err, ErrNoRows) {
			return ErrAgentNotFound
		}
		if err != nil {
			return err
		}
		agent.WebhookURL = webhook
		return tx.UpdateAgent(ctx, agent)
	})
	if err != nil {
		return models.Agent{}, internal("update webhook", err)
	}
	return agent, nil
}

// Authenticate resolves a raw API key to its agent and refreshes last_seen_at.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (models.Agent, error) {
	if !strings.HasPrefix(rawKey, KeyPrefix) || len(rawKey) != len(KeyPrefix)+2*keySecretBytes {
		return models.Agent{}, ErrUnauthorized
	}
	fingerprint := keyFingerprint(rawKey)

	var agentID models.AgentID
	if cached, ok := s.keys.Get(fingerprint); ok {
		agentID = cached.(models.AgentID)
	} else {
		var candidates []models.Agent
		err := s.store.InTx(ctx, func(tx Tx) error {
			var err error
			candidates, err = tx.AgentsByKeyPrefix(ctx, rawKey[len(KeyPrefix):len(KeyPrefix)+keyLookupLength])
			return err
		})
		if err != nil {
			return models.Agent{}, internal("authenticate", err)
		}
		for _, c := range candidates {
			if bcrypt.CompareHashAndPassword([]byte(c.KeyHash), []byte(rawKey)) == nil {
				agentID = c.ID
				break
			}
		}
		if agentID.IsZero() {
			return models.Agent{}, ErrUnauthorized
		}
		s.keys.SetDefault(fingerprint, agentID)
	}

	var agent models.Agent
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		agent, err = tx.AgentByID(ctx, agentID)
		if err != nil {
			return err
		}
		if now := s.now(); now.Sub(agent.LastSeenAt) >= lastSeenEvery {
			agent.LastSeenAt = now
			return tx.UpdateAgent(ctx, agent)
		}
		return nil
	})
	if errors.Is(err, ErrNoRows) {
		s.keys.Delete(fingerprint)
		return models.Agent{}, ErrUnauthorized
	}
	if err != nil {
		return models.Agent{}, internal("authenticate", err)
	}
	return agent, nil
}

func (s *Service) newKey() (key, prefix, hash string, err error) {
	buf := make([]byte, keySecretBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", err
	}
	key = KeyPrefix + hex.EncodeToString(buf)
	h, err := bcrypt.GenerateFromPassword([]byte(key), s.cfg.KeyHashCost)
	if err != nil {
		return "", "", "", err
	}
	return key, key[len(KeyPrefix) : len(KeyPrefix)+keyLookupLength], string(h), nil
}

func keyFingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// normalizeWebhook treats nil and "" as no webhook and validates the rest.
func (s *Service) normalizeWebhook(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	u := strings.TrimSpace(*raw)
	if u == "" {
		return nil, nil
	}
	if err := s.notifier.ValidateURL(u); err != nil {
		return nil, ErrInvalidWebhookURL.withMessage("%v", err)
	}
	return &u, nil
}
