// Package eligibility decides whether a GraphQL request takes part in caching.
package eligibility

import (
	"regexp"
	"time"

	"github.com/Sternrassler/gql-response-cache/pkg/request"
)

// Rule is one allow-list entry. It matches an operation by exact name, or by
// regular expression when Pattern is set. TTL optionally overrides the
// global cache TTL for matching operations.
type Rule struct {
	// Name matches the operation identifier exactly.
	Name string

	// Pattern matches the operation identifier by regular expression.
	// Takes precedence over Name when set.
	Pattern *regexp.Regexp

	// TTL overrides the global TTL for this rule (0 = use global).
	TTL time.Duration
}

// Exact returns a rule matching one operation name.
func Exact(name string, ttl time.Duration) Rule {
	return Rule{Name: name, TTL: ttl}
}

// MustPattern returns a rule matching operations by regular expression.
// It panics if expr does not compile.
func MustPattern(expr string, ttl time.Duration) Rule {
	return Rule{Pattern: regexp.MustCompile(expr), TTL: ttl}
}

// Matches reports whether the rule applies to the operation identifier.
func (r Rule) Matches(operation string) bool {
	if r.Pattern != nil {
		return operation != "" && r.Pattern.MatchString(operation)
	}
	return r.Name != "" && r.Name == operation
}

// Filter is the allow-list plus the caller opt-out toggles.
type Filter struct {
	// Rules is the ordered allow-list. Order matters for TTL selection.
	Rules []Rule

	// EnableHeader honours "cache-control: no-cache" as an opt-out.
	EnableHeader bool

	// EnableQuery honours "?cache=false" as an opt-out.
	EnableQuery bool
}

// Match returns the first rule matching the operation identifier.
func (f *Filter) Match(operation string) (Rule, bool) {
	if f == nil {
		return Rule{}, false
	}
	for _, rule := range f.Rules {
		if rule.Matches(operation) {
			return rule, true
		}
	}
	return Rule{}, false
}

// IsCacheable reports whether the request qualifies for caching:
// named, non-empty read-only query, allow-listed, and not opted out.
// It never fails and has no side effects.
func (f *Filter) IsCacheable(d *request.Descriptor) bool {
	if f == nil || d == nil {
		return false
	}
	if d.OperationName == "" || d.Query == "" {
		return false
	}
	if d.Kind != request.KindQuery {
		return false
	}
	if _, ok := f.Match(d.OperationName); !ok {
		return false
	}
	if f.EnableHeader && d.NoCache() {
		return false
	}
	if f.EnableQuery && d.CacheParamDisabled() {
		return false
	}
	return true
}
