package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/Sternrassler/gql-response-cache/pkg/request"
)

// KeyPrefix tags every key written by this package.
const KeyPrefix = "gql"

// FingerprintMode selects how the query text is reduced into the key.
type FingerprintMode int

const (
	// FingerprintDigest uses a truncated SHA-256 of the whitespace-stripped query.
	FingerprintDigest FingerprintMode = iota

	// FingerprintLength uses the non-whitespace character count of the query.
	// Structurally different queries of equal length collide; only useful
	// to share keys with stores populated by older deployments.
	FingerprintLength
)

// CacheKey identifies one cached GraphQL response.
type CacheKey struct {
	// Operation is the GraphQL operation name
	Operation string

	// Locale is the languageCode parameter or "default"
	Locale string

	// Fingerprint reduces the query text
	Fingerprint string

	// Variables is the stable encoding of the variables map
	Variables string
}

// String generates the store key.
// Format: gql:<operation>:<locale>:<fingerprint>:<variables>
//
// Example:
//
//	gql:GetUser:default:2c4109f74a47eac7:e30=
func (k CacheKey) String() string {
	return strings.Join([]string{KeyPrefix, k.Operation, k.Locale, k.Fingerprint, k.Variables}, ":")
}

// DeriveKey builds the cache key of a request. It is pure and total.
func DeriveKey(d *request.Descriptor, mode FingerprintMode) CacheKey {
	if d == nil {
		d = &request.Descriptor{}
	}
	return CacheKey{
		Operation:   d.OperationName,
		Locale:      d.Locale(),
		Fingerprint: fingerprint(d.Query, mode),
		Variables:   encodeVariables(d.Variables),
	}
}

// normalizeQuery strips spaces, newlines and carriage returns.
func normalizeQuery(query string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r':
			return -1
		}
		return r
	}, query)
}

func fingerprint(query string, mode FingerprintMode) string {
	normalized := normalizeQuery(query)

	if mode == FingerprintLength {
		// Counted in UTF-16 code units to match keys written by JS hosts
		n := 0
		for _, r := range normalized {
			n += utf16.RuneLen(r)
		}
		return strconv.Itoa(n)
	}

	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:8])
}

// encodeVariables returns base64 of the canonical JSON of vars.
// A nil map encodes like an empty one.
func encodeVariables(vars map[string]any) string {
	var b strings.Builder
	writeCanonical(&b, vars)
	return base64.StdEncoding.EncodeToString([]byte(b.String()))
}

// writeCanonical writes JSON with object keys sorted.
func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeScalar(b, k)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		writeScalar(b, v)
	}
}

func writeScalar(b *strings.Builder, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		// Keep the key total for values JSON cannot represent
		data, _ = json.Marshal(fmt.Sprint(v))
	}
	b.Write(data)
}
