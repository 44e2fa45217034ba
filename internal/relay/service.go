package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Config tunes the relay core. The app layer fills it from viper.
type Config struct {
	Categories           []string
	DefaultContract      string
	InviteTTL            time.Duration
	PollInterval         time.Duration
	StreamDefaultTimeout time.Duration
	StreamMaxTimeout     time.Duration
	StreamBatchLimit     int
	InboxDefaultLimit    int
	InboxMaxLimit        int
	InstructionsVersion  string
	AuthCacheTTL         time.Duration
	KeyHashCost          int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Categories:           append([]string(nil), DefaultCategories...),
		DefaultContract:      "friends",
		InviteTTL:            72 * time.Hour,
		PollInterval:         5 * time.Second,
		StreamDefaultTimeout: 30 * time.Second,
		StreamMaxTimeout:     60 * time.Second,
		StreamBatchLimit:     50,
		InboxDefaultLimit:    50,
		InboxMaxLimit:        200,
		InstructionsVersion:  "4",
		AuthCacheTTL:         5 * time.Minute,
		KeyHashCost:          bcrypt.DefaultCost,
	}
}

// Service implements every relay operation on top of a Store.
type Service struct {
	store    Store
	notifier Notifier
	cfg      Config
	keys     *cache.Cache
	now      func() time.Time
	log      *logrus.Entry
}

// NewService wires a Service. A nil notifier disables webhooks.
func NewService(store Store, notifier Notifier, cfg Config) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	def := DefaultConfig()
	if len(cfg.Categories) == 0 {
		cfg.Categories = def.Categories
	}
	if cfg.DefaultContract == "" {
		cfg.DefaultContract = def.DefaultContract
	}
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = def.InviteTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StreamMaxTimeout <= 0 {
		cfg.StreamMaxTimeout = def.StreamMaxTimeout
	}
	if cfg.StreamDefaultTimeout <= 0 || cfg.StreamDefaultTimeout > cfg.StreamMaxTimeout {
		cfg.StreamDefaultTimeout = min(def.StreamDefaultTimeout, cfg.StreamMaxTimeout)
	}
	if cfg.StreamBatchLimit <= 0 {
		cfg.StreamBatchLimit = def.StreamBatchLimit
	}
	if cfg.InboxMaxLimit <= 0 {
		cfg.InboxMaxLimit = def.InboxMaxLimit
	}
	if cfg.InboxDefaultLimit <= 0 || cfg.InboxDefaultLimit > cfg.InboxMaxLimit {
		cfg.InboxDefaultLimit = min(def.InboxDefaultLimit, cfg.InboxMaxLimit)
	}
	if cfg.InstructionsVersion == "" {
		cfg.InstructionsVersion = def.InstructionsVersion
	}
	if cfg.AuthCacheTTL <= 0 {
		cfg.AuthCacheTTL = def.AuthCacheTTL
	}
	if cfg.KeyHashCost == 0 {
		cfg.KeyHashCost = def.KeyHashCost
	}

	return &Service{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		keys:     cache.New(cfg.AuthCacheTTL, 2*cfg.AuthCacheTTL),
		now:      func() time.Time { return time.Now().UTC() },
		log:      logrus.WithField("component", "relay"),
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func newID() string {
	return uuid.NewString()
}
