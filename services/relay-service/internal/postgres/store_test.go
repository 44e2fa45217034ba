package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stoik/cex/internal/models"
	"github.com/stoik/cex/internal/relay"
	"github.com/stoik/cex/services/relay-service/internal/db"
	"golang.org/x/crypto/bcrypt"
)

// openTestStore connects to RELAY_TEST_DATABASE_URL and resets the schema.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("RELAY_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RELAY_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, err = pool.Exec(ctx, `TRUNCATE announcement_reads, announcements, messages, threads,
		permissions, connections, invites, agents, humans CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return New(pool)
}

func newService(store relay.Store) *relay.Service {
	cfg := relay.DefaultConfig()
	cfg.PollInterval = 20 * time.Millisecond
	cfg.KeyHashCost = bcrypt.MinCost
	return relay.NewService(store, nil, cfg)
}

func register(t *testing.T, svc *relay.Service, name string) models.Agent {
	t.Helper()
	reg, err := svc.Register(context.Background(), relay.RegisterRequest{
		Email:     name + "@example.com",
		Name:      name,
		AgentName: name + "-agent",
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return reg.Agent
}

func TestStoreMessageFlow(t *testing.T) {
	store := openTestStore(t)
	svc := newService(store)
	ctx := context.Background()

	alice := register(t, svc, "alice")
	bob := register(t, svc, "bob")

	inv, err := svc.CreateInvite(ctx, alice)
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if _, err := svc.AcceptInvite(ctx, bob, inv.Code, ""); err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}
	if _, err := svc.AcceptInvite(ctx, bob, inv.Code, ""); !errors.Is(err, relay.ErrInviteUsed) {
		t.Fatalf("second accept: got %v, want ErrInviteUsed", err)
	}

	for _, content := range []string{"one", "two", "three"} {
		if _, err := svc.Send(ctx, alice, relay.SendRequest{To: bob.ID, Content: content}); err != nil {
			t.Fatalf("Send %q: %v", content, err)
		}
	}

	env, err := svc.Inbox(ctx, bob, 2)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if env.Count != 2 {
		t.Fatalf("got %d messages, want 2", env.Count)
	}
	if env.Messages[0].Content != "three" || env.Messages[1].Content != "two" {
		t.Errorf("got %q, %q; want newest first", env.Messages[0].Content, env.Messages[1].Content)
	}
	for _, m := range env.Messages {
		if m.Status != models.StatusDelivered {
			t.Errorf("message %s status %s, want delivered", m.ID, m.Status)
		}
	}

	env, err = svc.Stream(ctx, bob, time.Second)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if env.Count != 1 || env.Messages[0].Content != "one" {
		t.Fatalf("stream got %+v, want the remaining message", env.Messages)
	}

	acked, err := svc.Ack(ctx, bob, env.Messages[0].ID)
	if err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if acked.Status != models.StatusRead || acked.AcknowledgedAt == nil {
		t.Errorf("ack got status %s acknowledged_at %v", acked.Status, acked.AcknowledgedAt)
	}
}

func TestStoreConcurrentClaims(t *testing.T) {
	store := openTestStore(t)
	svc := newService(store)
	ctx := context.Background()

	alice := register(t, svc, "alice")
	bob := register(t, svc, "bob")
	inv, err := svc.CreateInvite(ctx, alice)
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	if _, err := svc.AcceptInvite(ctx, bob, inv.Code, ""); err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}

	const total = 20
	for i := 0; i < total; i++ {
		if _, err := svc.Send(ctx, alice, relay.SendRequest{To: bob.ID, Content: "m"}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				env, err := svc.Inbox(ctx, bob, 3)
				if err != nil {
					t.Errorf("Inbox: %v", err)
					return
				}
				if env.Count == 0 {
					return
				}
				mu.Lock()
				for _, m := range env.Messages {
					seen[m.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("claimed %d distinct messages, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("message %s claimed %d times", id, n)
		}
	}
}

func TestStoreAnnouncementsOncePerAgent(t *testing.T) {
	store := openTestStore(t)
	svc := newService(store)
	ctx := context.Background()

	alice := register(t, svc, "alice")
	if _, err := svc.CreateAnnouncement(ctx, "Maintenance", "Down at noon", ""); err != nil {
		t.Fatalf("CreateAnnouncement: %v", err)
	}

	env, err := svc.Inbox(ctx, alice, 0)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(env.Announcements) != 1 {
		t.Fatalf("got %d announcements, want 1", len(env.Announcements))
	}
	env, err = svc.Inbox(ctx, alice, 0)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(env.Announcements) != 0 {
		t.Errorf("announcement delivered twice")
	}
}

func TestStoreConcurrentAnnouncementClaims(t *testing.T) {
	store := openTestStore(t)
	svc := newService(store)
	ctx := context.Background()

	alice := register(t, svc, "alice")
	for _, title := range []string{"First", "Second"} {
		if _, err := svc.CreateAnnouncement(ctx, title, "body", ""); err != nil {
			t.Fatalf("CreateAnnouncement: %v", err)
		}
	}

	const pollers = 8
	var (
		mu    sync.Mutex
		seen  = map[string]int{}
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			env, err := svc.Inbox(ctx, alice, 0)
			if err != nil {
				t.Errorf("Inbox: %v", err)
				return
			}
			mu.Lock()
			for _, a := range env.Announcements {
				seen[a.ID]++
			}
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	if len(seen) != 2 {
		t.Fatalf("got %d distinct announcements, want 2", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("announcement %s delivered %d times", id, n)
		}
	}
}

func TestMapErr(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.InTx(ctx, func(tx relay.Tx) error {
		_, err := tx.HumanByID(ctx, models.NewHumanID())
		return err
	})
	if !errors.Is(err, relay.ErrNoRows) {
		t.Errorf("missing human: got %v, want ErrNoRows", err)
	}

	h := models.Human{ID: models.NewHumanID(), Email: "dup@example.com", Name: "Dup", CreatedAt: time.Now().UTC()}
	err = store.InTx(ctx, func(tx relay.Tx) error {
		if err := tx.InsertHuman(ctx, h); err != nil {
			return err
		}
		h.ID = models.NewHumanID()
		h.Email = "DUP@example.com"
		return tx.InsertHuman(ctx, h)
	})
	if !errors.Is(err, relay.ErrDuplicate) {
		t.Errorf("duplicate email: got %v, want ErrDuplicate", err)
	}
}
