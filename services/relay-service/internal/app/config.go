package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/stoik/cex/internal/memstore"
	"github.com/stoik/cex/internal/relay"
	"github.com/stoik/cex/services/relay-service/internal/api"
	"github.com/stoik/cex/services/relay-service/internal/db"
	"github.com/stoik/cex/services/relay-service/internal/postgres"
	"github.com/stoik/cex/services/relay-service/internal/webhook"
)

func setDefaults() {
	def := relay.DefaultConfig()

	viper.SetDefault("relay.poll_interval", def.PollInterval)
	viper.SetDefault("relay.stream_default_timeout", def.StreamDefaultTimeout)
	viper.SetDefault("relay.stream_max_timeout", def.StreamMaxTimeout)
	viper.SetDefault("relay.stream_batch_limit", def.StreamBatchLimit)
	viper.SetDefault("relay.inbox_default_limit", def.InboxDefaultLimit)
	viper.SetDefault("relay.inbox_max_limit", def.InboxMaxLimit)
	viper.SetDefault("relay.instructions_version", def.InstructionsVersion)
	viper.SetDefault("relay.categories", def.Categories)
	viper.SetDefault("relay.default_contract", def.DefaultContract)
	viper.SetDefault("invites.ttl", def.InviteTTL)
	viper.SetDefault("auth.cache_ttl", def.AuthCacheTTL)
	viper.SetDefault("ratelimit.per_minute", 120)
	viper.SetDefault("webhook.timeout", 10*time.Second)
	viper.SetDefault("webhook.allow_insecure", false)
	viper.SetDefault("webhook.per_second", 2.0)
	viper.SetDefault("janitor.schedule", "@hourly")
	viper.SetDefault("janitor.invite_retention", 7*24*time.Hour)
	viper.SetDefault("database.max_conns", 0)
}

func relayConfig() relay.Config {
	return relay.Config{
		Categories:           viper.GetStringSlice("relay.categories"),
		DefaultContract:      viper.GetString("relay.default_contract"),
		InviteTTL:            viper.GetDuration("invites.ttl"),
		PollInterval:         viper.GetDuration("relay.poll_interval"),
		StreamDefaultTimeout: viper.GetDuration("relay.stream_default_timeout"),
		StreamMaxTimeout:     viper.GetDuration("relay.stream_max_timeout"),
		StreamBatchLimit:     viper.GetInt("relay.stream_batch_limit"),
		InboxDefaultLimit:    viper.GetInt("relay.inbox_default_limit"),
		InboxMaxLimit:        viper.GetInt("relay.inbox_max_limit"),
		InstructionsVersion:  viper.GetString("relay.instructions_version"),
		AuthCacheTTL:         viper.GetDuration("auth.cache_ttl"),
	}
}

func apiConfig() api.Config {
	return api.Config{
		AdminKey:      viper.GetString("admin.key"),
		PublicURL:     viper.GetString("server.public_url"),
		RatePerMinute: viper.GetInt("ratelimit.per_minute"),
	}
}

func webhookConfig() webhook.Config {
	return webhook.Config{
		Timeout:       viper.GetDuration("webhook.timeout"),
		AllowInsecure: viper.GetBool("webhook.allow_insecure"),
		PerSecond:     viper.GetFloat64("webhook.per_second"),
	}
}

// openStore returns the store selected by store.driver and a func that
// releases it.
func openStore(ctx context.Context) (relay.Store, func(), error) {
	switch driver := viper.GetString("store.driver"); driver {
	case "memory":
		s := memstore.New()
		return s, s.Close, nil
	case "postgres", "":
		if err := db.Init(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return postgres.New(db.Pool), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store.driver %q (want postgres or memory)", driver)
	}
}
