package cache

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Sternrassler/gql-response-cache/pkg/request"
	"pgregory.net/rapid"
)

func TestCacheKey_String(t *testing.T) {
	key := CacheKey{
		Operation:   "GetUser",
		Locale:      "default",
		Fingerprint: "13",
		Variables:   "e30=",
	}
	if got, want := key.String(), "gql:GetUser:default:13:e30="; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestDeriveKey(t *testing.T) {
	tests := []struct {
		name string
		desc *request.Descriptor
		mode FingerprintMode
		want string
	}{
		{
			name: "digest fingerprint, empty variables",
			desc: &request.Descriptor{
				OperationName: "GetUser",
				Query:         "{ getUser { id } }",
				Variables:     map[string]any{},
			},
			mode: FingerprintDigest,
			want: "gql:GetUser:default:2c4109f74a47eac7:e30=",
		},
		{
			name: "length fingerprint",
			desc: &request.Descriptor{
				OperationName: "GetUser",
				Query:         "{ getUser { id } }",
			},
			mode: FingerprintLength,
			want: "gql:GetUser:default:13:e30=",
		},
		{
			name: "locale from languageCode",
			desc: &request.Descriptor{
				OperationName: "GetUser",
				Query:         "{ getUser { id } }",
				Params:        url.Values{"languageCode": {"fr"}},
				Variables:     map[string]any{"id": "42"},
			},
			mode: FingerprintLength,
			want: "gql:GetUser:fr:13:eyJpZCI6IjQyIn0=",
		},
		{
			name: "nested variables are canonical",
			desc: &request.Descriptor{
				OperationName: "Search",
				Query:         "",
				Variables: map[string]any{
					"b": []any{true, nil, "x"},
					"a": float64(1),
				},
			},
			mode: FingerprintLength,
			want: "gql:Search:default:0:eyJhIjoxLCJiIjpbdHJ1ZSxudWxsLCJ4Il19",
		},
		{
			name: "nil descriptor",
			desc: nil,
			mode: FingerprintLength,
			want: "gql::default:0:e30=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveKey(tt.desc, tt.mode).String(); got != tt.want {
				t.Errorf("DeriveKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeriveKey_WhitespaceInsensitive(t *testing.T) {
	compact := &request.Descriptor{OperationName: "GetUser", Query: "{getUser{id}}"}
	spaced := &request.Descriptor{OperationName: "GetUser", Query: "{\r\n  getUser {\n    id\n  }\n}"}

	for _, mode := range []FingerprintMode{FingerprintDigest, FingerprintLength} {
		if DeriveKey(compact, mode) != DeriveKey(spaced, mode) {
			t.Errorf("mode %d: whitespace changed the key", mode)
		}
	}
}

func TestDeriveKey_DigestSeparatesEqualLengthQueries(t *testing.T) {
	a := &request.Descriptor{OperationName: "Op", Query: "{ aaa }"}
	b := &request.Descriptor{OperationName: "Op", Query: "{ bbb }"}

	if DeriveKey(a, FingerprintLength) != DeriveKey(b, FingerprintLength) {
		t.Fatal("length fingerprint should collide for equal-length queries")
	}
	if DeriveKey(a, FingerprintDigest) == DeriveKey(b, FingerprintDigest) {
		t.Error("digest fingerprint must separate different queries")
	}
}

func TestDeriveKey_LargeIntegerVariablesStayDistinct(t *testing.T) {
	keyFor := func(id string) string {
		payload := `{"query":"query GetUser($id: ID!) { user(id: $id) { id } }","variables":{"id":` + id + `}}`
		d, err := request.FromHTTP(httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(payload)))
		if err != nil {
			t.Fatalf("FromHTTP failed: %v", err)
		}
		return DeriveKey(d, FingerprintDigest).String()
	}

	a := keyFor("9007199254740993")
	b := keyFor("9007199254740992")
	if a == b {
		t.Errorf("ids beyond 2^53 share key %q", a)
	}
	// {"id":9007199254740993}
	if want := "eyJpZCI6OTAwNzE5OTI1NDc0MDk5M30="; !strings.HasSuffix(a, ":"+want) {
		t.Errorf("key %q should end with variables %s", a, want)
	}
}

func TestDeriveKey_LengthCountsUTF16Units(t *testing.T) {
	// U+1F600 is one rune but two UTF-16 code units
	d := &request.Descriptor{Query: "a \U0001F600"}
	if got := DeriveKey(d, FingerprintLength).Fingerprint; got != "3" {
		t.Errorf("Fingerprint = %q, want 3", got)
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		op := rapid.StringMatching(`[A-Za-z]{1,12}`).Draw(rt, "op")
		query := rapid.String().Draw(rt, "query")
		locale := rapid.SampledFrom([]string{"", "en", "de"}).Draw(rt, "locale")
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,6}`), 0, 6, rapid.ID[string]).Draw(rt, "keys")
		mode := rapid.SampledFrom([]FingerprintMode{FingerprintDigest, FingerprintLength}).Draw(rt, "mode")

		// Build two maps with the same content in different insertion order
		first := make(map[string]any, len(keys))
		second := make(map[string]any, len(keys))
		for i, k := range keys {
			first[k] = float64(i)
		}
		for i := len(keys) - 1; i >= 0; i-- {
			second[keys[i]] = float64(i)
		}

		params := url.Values{}
		if locale != "" {
			params.Set("languageCode", locale)
		}

		a := &request.Descriptor{OperationName: op, Query: query, Params: params, Variables: first}
		b := &request.Descriptor{OperationName: op, Query: query, Params: params, Variables: second}

		if ka, kb := DeriveKey(a, mode).String(), DeriveKey(b, mode).String(); ka != kb {
			rt.Fatalf("keys differ: %q vs %q", ka, kb)
		}
	})
}
