package cache

import (
	"time"

	"github.com/Sternrassler/gql-response-cache/pkg/eligibility"
)

// FallbackTTL applies when neither a rule nor the configuration sets a TTL.
const FallbackTTL = 24 * time.Hour

// TTLPolicy selects the lifetime of a written-back response.
type TTLPolicy struct {
	// Rules is the ordered override table; the first match decides.
	Rules []eligibility.Rule

	// Default is the configuration-wide TTL (0 = FallbackTTL).
	Default time.Duration
}

// Select returns the TTL for an operation: the first matching rule's TTL,
// then Default, then FallbackTTL. A matching rule without TTL does not
// fall through to later rules.
func (p TTLPolicy) Select(operation string) time.Duration {
	for _, rule := range p.Rules {
		if !rule.Matches(operation) {
			continue
		}
		if rule.TTL > 0 {
			return rule.TTL
		}
		break
	}
	if p.Default > 0 {
		return p.Default
	}
	return FallbackTTL
}
