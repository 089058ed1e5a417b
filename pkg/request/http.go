package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// MaxBodySize bounds how much of a POST body is buffered for inspection.
const MaxBodySize = 4 << 20

var (
	// ErrNotGraphQL indicates the HTTP request does not carry a single GraphQL operation.
	ErrNotGraphQL = errors.New("not a graphql request")
)

// body is the GraphQL-over-HTTP request envelope.
type body struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// FromHTTP builds a Descriptor from a GET or POST GraphQL request.
// The request body is restored so the downstream handler can read it again.
func FromHTTP(r *http.Request) (*Descriptor, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil request", ErrNotGraphQL)
	}

	params := r.URL.Query()
	var env body

	switch r.Method {
	case http.MethodGet:
		env.Query = params.Get("query")
		env.OperationName = params.Get("operationName")
		if raw := params.Get("variables"); raw != "" {
			if err := decodeJSON([]byte(raw), &env.Variables); err != nil {
				return nil, fmt.Errorf("%w: variables: %v", ErrNotGraphQL, err)
			}
		}
	case http.MethodPost:
		if r.Body == nil {
			return nil, fmt.Errorf("%w: empty body", ErrNotGraphQL)
		}
		data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodySize+1))
		r.Body.Close()
		// Restore body for the next handler
		r.Body = io.NopCloser(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		if len(data) > MaxBodySize {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrNotGraphQL, MaxBodySize)
		}
		// Batched requests are arrays and fail here
		if err := decodeJSON(data, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotGraphQL, err)
		}
	default:
		return nil, fmt.Errorf("%w: method %s", ErrNotGraphQL, r.Method)
	}

	d := &Descriptor{
		OperationName: env.OperationName,
		Query:         env.Query,
		Variables:     env.Variables,
		Params:        params,
		CacheControl:  r.Header.Get("Cache-Control"),
	}
	d.OperationName, d.Kind = ResolveOperation(d.Query, d.OperationName)

	return d, nil
}

// decodeJSON unmarshals a single JSON value into v. Numbers are kept as
// json.Number so integers beyond 2^53 survive into the cache key intact.
func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// ResolveOperation parses the document and returns the selected operation's
// name and kind. An empty name selects the only operation of the document.
// A document that fails to parse yields KindUnknown and the name unchanged.
func ResolveOperation(query, name string) (string, OperationKind) {
	if query == "" {
		return name, KindUnknown
	}

	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return name, KindUnknown
	}

	var op *ast.OperationDefinition
	if name == "" {
		if len(doc.Operations) == 1 {
			op = doc.Operations[0]
		}
	} else {
		for _, candidate := range doc.Operations {
			if candidate.Name == name {
				op = candidate
				break
			}
		}
	}
	if op == nil {
		return name, KindUnknown
	}

	if name == "" {
		name = op.Name
	}

	switch op.Operation {
	case ast.Query:
		return name, KindQuery
	case ast.Mutation:
		return name, KindMutation
	case ast.Subscription:
		return name, KindSubscription
	default:
		return name, KindUnknown
	}
}
