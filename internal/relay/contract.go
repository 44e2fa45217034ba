package relay

import (
	"sort"

	"github.com/stoik/cex/internal/models"
)

// DefaultCategories is the canonical category enumeration.
var DefaultCategories = []string{"schedule", "projects", "knowledge", "interests", "requests", "personal"}

// Default levels used when a preset or a permission row has nothing to say
// about a category. Neither of them blocks delivery.
const (
	DefaultOutboundLevel = models.LevelAsk
	DefaultInboundLevel  = models.LevelAuto
)

// Contract is a named preset of outbound levels used to seed permissions
// when a connection is created.
type Contract struct {
	Name   string            `json:"name"`
	Levels map[string]string `json:"levels"`
}

// BuiltInContracts are the presets offered when accepting an invite.
var BuiltInContracts = map[string]Contract{
	"friends": {Name: "friends", Levels: map[string]string{
		"schedule":  models.LevelAuto,
		"projects":  models.LevelAsk,
		"knowledge": models.LevelAuto,
		"interests": models.LevelAuto,
		"requests":  models.LevelAsk,
		"personal":  models.LevelAsk,
	}},
	"coworkers": {Name: "coworkers", Levels: map[string]string{
		"schedule":  models.LevelAuto,
		"projects":  models.LevelAuto,
		"knowledge": models.LevelAuto,
		"interests": models.LevelAsk,
		"requests":  models.LevelAuto,
		"personal":  models.LevelNever,
	}},
	"casual": {Name: "casual", Levels: map[string]string{
		"schedule":  models.LevelAsk,
		"projects":  models.LevelNever,
		"knowledge": models.LevelAuto,
		"interests": models.LevelAuto,
		"requests":  models.LevelNever,
		"personal":  models.LevelNever,
	}},
}

// ValidLevel reports whether level is one of auto, ask, never.
func ValidLevel(level string) bool {
	switch level {
	case models.LevelAuto, models.LevelAsk, models.LevelNever:
		return true
	}
	return false
}

// Contracts returns the built-in presets restricted to the configured
// categories, sorted by name.
func (s *Service) Contracts() []Contract {
	out := make([]Contract, 0, len(BuiltInContracts))
	for _, c := range BuiltInContracts {
		levels := make(map[string]string, len(s.cfg.Categories))
		for _, cat := range s.cfg.Categories {
			levels[cat] = c.level(cat)
		}
		out = append(out, Contract{Name: c.Name, Levels: levels})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c Contract) level(category string) string {
	if l, ok := c.Levels[category]; ok {
		return l
	}
	return DefaultOutboundLevel
}

// resolveContract maps an optional contract name to a preset. An omitted name
// selects the configured default; an unknown name is an error.
func (s *Service) resolveContract(name string) (Contract, error) {
	if name == "" {
		name = s.cfg.DefaultContract
	}
	c, ok := BuiltInContracts[name]
	if !ok {
		names := make([]string, 0, len(BuiltInContracts))
		for n := range BuiltInContracts {
			names = append(names, n)
		}
		sort.Strings(names)
		return Contract{}, ErrUnknownContract.withMessage("unknown contract '%s'; options: %v", name, names)
	}
	return c, nil
}

// seedPermissions builds one row per human and category from the preset.
func (s *Service) seedPermissions(conn models.Connection, c Contract) []models.Permission {
	now := s.now()
	perms := make([]models.Permission, 0, 2*len(s.cfg.Categories))
	for _, h := range []models.HumanID{conn.HumanA, conn.HumanB} {
		for _, cat := range s.cfg.Categories {
			perms = append(perms, models.Permission{
				ConnectionID: conn.ID,
				HumanID:      h,
				Category:     cat,
				Outbound:     c.level(cat),
				Inbound:      DefaultInboundLevel,
				UpdatedAt:    now,
			})
		}
	}
	return perms
}

func (s *Service) validCategory(category string) bool {
	for _, c := range s.cfg.Categories {
		if c == category {
			return true
		}
	}
	return false
}

func (s *Service) categoryError(category string) error {
	return ErrInvalidCategory.withMessage("invalid category '%s'; must be one of: %v", category, s.cfg.Categories)
}

func levelError(field, level string) error {
	return ErrInvalidLevel.withMessage("invalid %s '%s'; must be one of: ask, auto, never", field, level)
}
