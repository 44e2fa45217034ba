package relay_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stoik/cex/internal/memstore"
	"github.com/stoik/cex/internal/models"
	"github.com/stoik/cex/internal/relay"
	"golang.org/x/crypto/bcrypt"
)

func testConfig() relay.Config {
	cfg := relay.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.KeyHashCost = bcrypt.MinCost
	return cfg
}

type fixture struct {
	svc      *relay.Service
	store    *memstore.Store
	notifier *recordingNotifier
}

func newFixture(t *testing.T, tweak ...func(*relay.Config)) *fixture {
	t.Helper()
	cfg := testConfig()
	for _, fn := range tweak {
		fn(&cfg)
	}
	store := memstore.New()
	t.Cleanup(store.Close)
	n := &recordingNotifier{}
	return &fixture{svc: relay.NewService(store, n, cfg), store: store, notifier: n}
}

func (f *fixture) register(t *testing.T, name string) relay.Registration {
	t.Helper()
	reg, err := f.svc.Register(context.Background(), relay.RegisterRequest{
		Email:     name + "@example.com",
		Name:      name,
		AgentName: name + "-agent",
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return reg
}

// connect has a invite b and b accept with the given contract.
func (f *fixture) connect(t *testing.T, a, b models.Agent, contract string) relay.ConnectionRecord {
	t.Helper()
	ctx := context.Background()
	inv, err := f.svc.CreateInvite(ctx, a)
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	rec, err := f.svc.AcceptInvite(ctx, b, inv.Code, contract)
	if err != nil {
		t.Fatalf("accept invite: %v", err)
	}
	return rec
}

func (f *fixture) send(t *testing.T, from models.Agent, to models.AgentID, content string, category string) models.Message {
	t.Helper()
	req := relay.SendRequest{To: to, Content: content}
	if category != "" {
		req.Category = &category
	}
	msg, err := f.svc.Send(context.Background(), from, req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return msg
}

func ptr[T any](v T) *T { return &v }

type recordingNotifier struct {
	mu        sync.Mutex
	rejectAll bool
	calls     []models.Message
}

func (n *recordingNotifier) ValidateURL(raw string) error {
	if n.rejectAll {
		return errRejected
	}
	return nil
}

func (n *recordingNotifier) MessageCreated(_ models.Agent, msg models.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type testError string

func (e testError) Error() string { return string(e) }

const errRejected = testError("url rejected")
