// Package request extracts the cache-relevant view of an inbound GraphQL request.
package request

import (
	"net/url"
	"strings"
)

// OperationKind is the GraphQL operation type of the selected operation.
type OperationKind string

const (
	// KindUnknown means the document could not be parsed or the operation was not found.
	KindUnknown OperationKind = ""

	// KindQuery is a read-only query.
	KindQuery OperationKind = "query"

	// KindMutation is a write operation.
	KindMutation OperationKind = "mutation"

	// KindSubscription is a long-lived subscription.
	KindSubscription OperationKind = "subscription"
)

// Cache-control directives understood by the cache layer.
const (
	DirectiveNoCache        = "no-cache"
	DirectiveMustRevalidate = "must-revalidate"
)

// DefaultLocale is used when the request carries no languageCode parameter.
const DefaultLocale = "default"

// Descriptor is an immutable view of an inbound request.
// The cache layer only reads it.
type Descriptor struct {
	// OperationName is the operation identifier (may be empty).
	OperationName string

	// Kind is the type of the selected operation.
	Kind OperationKind

	// Query is the raw GraphQL document text.
	Query string

	// Variables are the bound operation variables.
	Variables map[string]any

	// Params are the URL query-string parameters (languageCode, cache, ...).
	Params url.Values

	// CacheControl is the raw value of the cache-control header.
	CacheControl string
}

// Locale returns the languageCode query parameter, or DefaultLocale.
func (d *Descriptor) Locale() string {
	if d == nil {
		return DefaultLocale
	}
	if lc := d.Params.Get("languageCode"); lc != "" {
		return lc
	}
	return DefaultLocale
}

// HasDirective reports whether the cache-control header carries the given directive.
func (d *Descriptor) HasDirective(directive string) bool {
	if d == nil || d.CacheControl == "" {
		return false
	}
	for _, part := range strings.Split(d.CacheControl, ",") {
		if strings.EqualFold(strings.TrimSpace(part), directive) {
			return true
		}
	}
	return false
}

// MustRevalidate reports whether the caller forces recomputation.
func (d *Descriptor) MustRevalidate() bool {
	return d.HasDirective(DirectiveMustRevalidate)
}

// NoCache reports whether the caller opted out via cache-control.
func (d *Descriptor) NoCache() bool {
	return d.HasDirective(DirectiveNoCache)
}

// CacheParamDisabled reports whether the caller passed ?cache=false.
func (d *Descriptor) CacheParamDisabled() bool {
	if d == nil {
		return false
	}
	return d.Params.Get("cache") == "false"
}
