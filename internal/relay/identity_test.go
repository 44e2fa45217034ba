package relay_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stoik/cex/internal/relay"
)

func TestRegisterCreatesPrimaryAgent(t *testing.T) {
	f := newFixture(t)
	reg, err := f.svc.Register(context.Background(), relay.RegisterRequest{
		Email:     "  Ada@Example.com ",
		Name:      "Ada",
		AgentName: "ada-laptop",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if reg.Human.Email != "ada@example.com" {
		t.Errorf("expected lowercased email, got %q", reg.Human.Email)
	}
	if reg.Human.EmailVerified {
		t.Error("new humans should be unverified")
	}
	if !reg.Agent.IsPrimary {
		t.Error("first agent should be primary")
	}
	if reg.Agent.HumanID != reg.Human.ID {
		t.Errorf("agent human id %q, want %q", reg.Agent.HumanID, reg.Human.ID)
	}
	if !strings.HasPrefix(reg.APIKey, relay.KeyPrefix) {
		t.Errorf("expected key prefix %q, got %q", relay.KeyPrefix, reg.APIKey)
	}
	if len(reg.APIKey) != len(relay.KeyPrefix)+64 {
		t.Errorf("expected 64 hex chars after prefix, got %d", len(reg.APIKey)-len(relay.KeyPrefix))
	}
	if strings.Contains(reg.Agent.KeyHash, reg.APIKey) {
		t.Error("raw key must not be stored")
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []relay.RegisterRequest{
		{Email: "no-at-sign", Name: "A", AgentName: "a"},
		{Email: "a@example.com", Name: "", AgentName: "a"},
		{Email: "a@example.com", Name: "A", AgentName: " "},
	}
	for _, req := range cases {
		if _, err := f.svc.Register(ctx, req); !errors.Is(err, relay.ErrInvalidRegistration) {
			t.Errorf("register %+v: expected invalid registration, got %v", req, err)
		}
	}

	f.register(t, "ada")
	_, err := f.svc.Register(ctx, relay.RegisterRequest{Email: "ADA@example.com", Name: "Other", AgentName: "x"})
	if !errors.Is(err, relay.ErrEmailTaken) {
		t.Errorf("expected email taken, got %v", err)
	}
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "ada")

	agent, err := f.svc.Authenticate(ctx, reg.APIKey)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if agent.ID != reg.Agent.ID {
		t.Errorf("authenticated as %q, want %q", agent.ID, reg.Agent.ID)
	}

	// Second lookup is served from the key cache.
	if _, err := f.svc.Authenticate(ctx, reg.APIKey); err != nil {
		t.Fatalf("cached authenticate: %v", err)
	}

	bad := []string{
		"",
		"Bearer " + reg.APIKey,
		reg.APIKey[:len(reg.APIKey)-1],
		reg.APIKey[:len(reg.APIKey)-1] + "0",
		"sk_" + reg.APIKey[len(relay.KeyPrefix):],
	}
	if strings.HasSuffix(reg.APIKey, "0") {
		bad[3] = reg.APIKey[:len(reg.APIKey)-1] + "1"
	}
	for _, key := range bad {
		if _, err := f.svc.Authenticate(ctx, key); !errors.Is(err, relay.ErrUnauthorized) {
			t.Errorf("key %q: expected unauthorized, got %v", key, err)
		}
	}
}

func TestAddAgentSharesHuman(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "ada")

	second, err := f.svc.AddAgent(ctx, reg.Agent, "ada-phone", nil)
	if err != nil {
		t.Fatalf("add agent: %v", err)
	}
	if second.Agent.IsPrimary {
		t.Error("second agent should not be primary")
	}
	if second.Agent.HumanID != reg.Human.ID {
		t.Errorf("second agent belongs to %q, want %q", second.Agent.HumanID, reg.Human.ID)
	}
	if second.APIKey == reg.APIKey {
		t.Error("agents must get distinct keys")
	}

	agents, err := f.svc.ListAgents(ctx, second.Agent)
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if !agents[0].IsPrimary {
		t.Error("primary agent should be listed first")
	}
}

func TestUpdateWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "ada")

	agent, err := f.svc.UpdateWebhook(ctx, reg.Agent, "https://hooks.example.com/ada")
	if err != nil {
		t.Fatalf("set webhook: %v", err)
	}
	if agent.WebhookURL == nil || *agent.WebhookURL != "https://hooks.example.com/ada" {
		t.Errorf("unexpected webhook %v", agent.WebhookURL)
	}

	agent, err = f.svc.UpdateWebhook(ctx, reg.Agent, "")
	if err != nil {
		t.Fatalf("clear webhook: %v", err)
	}
	if agent.WebhookURL != nil {
		t.Errorf("expected webhook cleared, got %q", *agent.WebhookURL)
	}

	f.notifier.rejectAll = true
	if _, err := f.svc.UpdateWebhook(ctx, reg.Agent, "http://127.0.0.1/"); !errors.Is(err, relay.ErrInvalidWebhookURL) {
		t.Errorf("expected invalid webhook url, got %v", err)
	}
}
