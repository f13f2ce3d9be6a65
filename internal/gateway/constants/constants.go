// Package constants loads tunable server constants for the gateway.
//
// The values mirror the knobs the live cluster operators adjust between
// deployments: per-endpoint admin privilege ranks, the defaults applied to
// newly registered accounts, and post-item limits. Constants are loaded once
// at startup from a YAML file and treated as read-only afterwards.
package constants

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultAdminLevel is the privilege rank required for admin endpoints that
// have no explicit override.
const DefaultAdminLevel = 1000

// Registration holds the account defaults applied by /account/register.
type Registration struct {
	CP          int64 `yaml:"cp"`
	TicketCount int   `yaml:"ticket_count"`
	UserLevel   int   `yaml:"user_level"`
	Enabled     bool  `yaml:"enabled"`
}

// Constants is the full set of tunable gateway constants.
type Constants struct {
	// AdminLevels maps an /admin/* request path to the minimum privilege
	// rank required to call it.
	AdminLevels map[string]int `yaml:"admin_levels"`

	Registration Registration `yaml:"registration"`

	// MaxPostItems caps the number of undelivered post items per account.
	MaxPostItems int `yaml:"max_post_items"`
}

// Defaults returns the constants used when no file is configured.
func Defaults() Constants {
	return Constants{
		AdminLevels: map[string]int{},
		Registration: Registration{
			CP:          0,
			TicketCount: 1,
			UserLevel:   0,
			Enabled:     true,
		},
		MaxPostItems: 100,
	}
}

// Load reads constants from a YAML file. An empty path returns Defaults.
func Load(path string) (Constants, error) {
	constants := Defaults()
	if path == "" {
		return constants, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Constants{}, fmt.Errorf("read constants file: %w", err)
	}
	if err := yaml.Unmarshal(data, &constants); err != nil {
		return Constants{}, fmt.Errorf("parse constants file: %w", err)
	}
	if constants.AdminLevels == nil {
		constants.AdminLevels = map[string]int{}
	}
	if constants.MaxPostItems <= 0 {
		constants.MaxPostItems = Defaults().MaxPostItems
	}
	return constants, nil
}

// AdminLevel returns the privilege rank required for the given request path.
func (c Constants) AdminLevel(path string) int {
	if level, ok := c.AdminLevels[path]; ok {
		return level
	}
	return DefaultAdminLevel
}
