package app

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stoik/cex/internal/memstore"
	"github.com/stoik/cex/internal/relay"
)

func TestRelayConfigDefaults(t *testing.T) {
	cfg := relayConfig()
	def := relay.DefaultConfig()

	if cfg.PollInterval != def.PollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, def.PollInterval)
	}
	if cfg.StreamMaxTimeout != 60*time.Second || cfg.StreamDefaultTimeout != 30*time.Second {
		t.Errorf("stream timeouts = %v/%v, want 30s/60s", cfg.StreamDefaultTimeout, cfg.StreamMaxTimeout)
	}
	if cfg.InboxMaxLimit != 200 || cfg.InboxDefaultLimit != 50 {
		t.Errorf("inbox limits = %d/%d, want 50/200", cfg.InboxDefaultLimit, cfg.InboxMaxLimit)
	}
	if !slices.Equal(cfg.Categories, def.Categories) {
		t.Errorf("Categories = %v, want %v", cfg.Categories, def.Categories)
	}
	if cfg.InviteTTL != 72*time.Hour {
		t.Errorf("InviteTTL = %v, want 72h", cfg.InviteTTL)
	}
	if got := viper.GetString("janitor.schedule"); got != "@hourly" {
		t.Errorf("janitor.schedule = %q, want @hourly", got)
	}
}

func TestRelayConfigOverride(t *testing.T) {
	viper.Set("relay.poll_interval", "250ms")
	viper.Set("relay.categories", []string{"schedule", "projects"})
	t.Cleanup(func() {
		viper.Set("relay.poll_interval", nil)
		viper.Set("relay.categories", nil)
	})

	cfg := relayConfig()
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.PollInterval)
	}
	if len(cfg.Categories) != 2 {
		t.Errorf("Categories = %v, want 2 entries", cfg.Categories)
	}
}

func TestOpenStore(t *testing.T) {
	viper.Set("store.driver", "memory")
	t.Cleanup(func() { viper.Set("store.driver", nil) })

	store, closeStore, err := openStore(context.Background())
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*memstore.Store); !ok {
		t.Errorf("got %T, want *memstore.Store", store)
	}

	viper.Set("store.driver", "sqlite")
	if _, _, err := openStore(context.Background()); err == nil {
		t.Error("unknown driver: expected error")
	}
}
