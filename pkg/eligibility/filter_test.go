package eligibility

import (
	"net/url"
	"testing"
	"time"

	"github.com/Sternrassler/gql-response-cache/pkg/request"
	"pgregory.net/rapid"
)

func baseDescriptor() *request.Descriptor {
	return &request.Descriptor{
		OperationName: "GetUser",
		Kind:          request.KindQuery,
		Query:         "query GetUser { getUser { id } }",
		Variables:     map[string]any{},
	}
}

func TestFilter_IsCacheable(t *testing.T) {
	filter := &Filter{
		Rules: []Rule{
			Exact("GetUser", time.Minute),
			MustPattern(`^List`, 0),
		},
		EnableHeader: true,
		EnableQuery:  true,
	}

	tests := []struct {
		name   string
		mutate func(d *request.Descriptor)
		want   bool
	}{
		{"eligible exact", func(d *request.Descriptor) {}, true},
		{"eligible pattern", func(d *request.Descriptor) { d.OperationName = "ListUsers" }, true},
		{"missing operation name", func(d *request.Descriptor) { d.OperationName = "" }, false},
		{"missing query", func(d *request.Descriptor) { d.Query = "" }, false},
		{"mutation", func(d *request.Descriptor) { d.Kind = request.KindMutation }, false},
		{"subscription", func(d *request.Descriptor) { d.Kind = request.KindSubscription }, false},
		{"unknown kind", func(d *request.Descriptor) { d.Kind = request.KindUnknown }, false},
		{"not allow-listed", func(d *request.Descriptor) { d.OperationName = "GetOrder" }, false},
		{"no-cache header", func(d *request.Descriptor) { d.CacheControl = "no-cache" }, false},
		{"cache=false param", func(d *request.Descriptor) { d.Params = url.Values{"cache": {"false"}} }, false},
		{"cache=0 param is not an opt-out", func(d *request.Descriptor) { d.Params = url.Values{"cache": {"0"}} }, true},
		{"must-revalidate stays eligible", func(d *request.Descriptor) { d.CacheControl = "must-revalidate" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := baseDescriptor()
			tt.mutate(d)
			if got := filter.IsCacheable(d); got != tt.want {
				t.Errorf("IsCacheable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter_OptOutToggles(t *testing.T) {
	filter := &Filter{Rules: []Rule{Exact("GetUser", 0)}}

	d := baseDescriptor()
	d.CacheControl = "no-cache"
	d.Params = url.Values{"cache": {"false"}}

	if !filter.IsCacheable(d) {
		t.Error("opt-outs must be ignored when toggles are disabled")
	}

	filter.EnableHeader = true
	if filter.IsCacheable(d) {
		t.Error("header opt-out should apply when enabled")
	}

	filter.EnableHeader = false
	filter.EnableQuery = true
	if filter.IsCacheable(d) {
		t.Error("query opt-out should apply when enabled")
	}
}

func TestFilter_Match_FirstWins(t *testing.T) {
	filter := &Filter{
		Rules: []Rule{
			MustPattern(`^Get`, 30*time.Second),
			Exact("GetUser", 60*time.Second),
		},
	}

	rule, ok := filter.Match("GetUser")
	if !ok {
		t.Fatal("expected a match")
	}
	if rule.TTL != 30*time.Second {
		t.Errorf("first matching rule should win, got TTL %v", rule.TTL)
	}
}

func TestFilter_NilSafe(t *testing.T) {
	var filter *Filter
	if filter.IsCacheable(baseDescriptor()) {
		t.Error("nil filter must not allow caching")
	}
	if (&Filter{}).IsCacheable(nil) {
		t.Error("nil descriptor must not be cacheable")
	}
}

func TestRule_EmptyNameNeverMatches(t *testing.T) {
	if (Rule{}).Matches("") {
		t.Error("empty rule must not match empty operation")
	}
	if MustPattern(`.*`, 0).Matches("") {
		t.Error("pattern rule must not match empty operation")
	}
}

func TestFilter_IsCacheable_Pure(t *testing.T) {
	filter := &Filter{
		Rules:        []Rule{MustPattern(`^[A-Z]`, 0)},
		EnableHeader: true,
		EnableQuery:  true,
	}

	rapid.Check(t, func(rt *rapid.T) {
		d := &request.Descriptor{
			OperationName: rapid.StringMatching(`[A-Za-z]{0,8}`).Draw(rt, "op"),
			Kind:          rapid.SampledFrom([]request.OperationKind{request.KindQuery, request.KindMutation, request.KindUnknown}).Draw(rt, "kind"),
			Query:         rapid.String().Draw(rt, "query"),
			CacheControl:  rapid.SampledFrom([]string{"", "no-cache", "must-revalidate"}).Draw(rt, "cc"),
			Params:        url.Values{"cache": {rapid.SampledFrom([]string{"", "true", "false"}).Draw(rt, "cache")}},
		}

		first := filter.IsCacheable(d)
		second := filter.IsCacheable(d)
		if first != second {
			rt.Fatalf("IsCacheable not stable: %v then %v", first, second)
		}
	})
}
