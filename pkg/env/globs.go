package env

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// GlobList is a comma separated list of doublestar patterns parsed from
// BROKER_RULE_PATHS, e.g. "/etc/broker/rules/**/*.yaml,./local/*.yml".
type GlobList []string

// Decode implements envconfig.Decoder.
func (g *GlobList) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		*g = nil
		return nil
	}

	var patterns []string
	for _, raw := range strings.Split(value, ",") {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("decode rule paths: invalid pattern %q", pattern)
		}
		patterns = append(patterns, pattern)
	}

	*g = patterns
	return nil
}
