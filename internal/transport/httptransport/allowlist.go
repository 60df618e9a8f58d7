package httptransport

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// RateLimitAllowlist holds client IPs exempt from the per-IP token
// bucket (spec's domain stack: an optional static TOML overlay for
// rate-limit allowlists). Grounded on the teacher's
// internal/mcp/config.go ConfigLoader: a list of candidate paths tried
// in order, falling back to an empty, permissive-by-absence default
// when none exist.
type RateLimitAllowlist struct {
	Allow []string `toml:"allow"`
}

var defaultAllowlistPaths = []string{
	"ratelimit.toml",
	"config/ratelimit.toml",
}

// LoadRateLimitAllowlist reads the first candidate TOML file that
// exists. The overlay is optional: when none of the candidates are
// present, it returns an empty allowlist rather than an error.
func LoadRateLimitAllowlist(paths ...string) (*RateLimitAllowlist, error) {
	if len(paths) == 0 {
		paths = defaultAllowlistPaths
	}
	var cfg RateLimitAllowlist
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if _, err := toml.DecodeFile(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse rate-limit allowlist %s: %w", p, err)
		}
		return &cfg, nil
	}
	return &RateLimitAllowlist{}, nil
}

func (a *RateLimitAllowlist) exempt(ip string) bool {
	if a == nil {
		return false
	}
	for _, allowed := range a.Allow {
		if allowed == ip {
			return true
		}
	}
	return false
}
