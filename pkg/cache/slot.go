package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SlotState is the state of the value stored under a cache key.
type SlotState int

const (
	// SlotAbsent means no entry exists.
	SlotAbsent SlotState = iota

	// SlotLoading means a computation for the key is in flight.
	SlotLoading

	// SlotReady means a serialized response is stored.
	SlotReady
)

// String returns the state name.
func (s SlotState) String() string {
	switch s {
	case SlotAbsent:
		return "absent"
	case SlotLoading:
		return "loading"
	case SlotReady:
		return "ready"
	default:
		return fmt.Sprintf("SlotState(%d)", int(s))
	}
}

// Stored slot tags. The first byte of every stored value is its tag.
const (
	tagLoading byte = 'L'
	tagReady   byte = 'R'
)

// Response is a GraphQL response body as cached. A Response obtained from
// ParseResponse or from the store keeps the exact bytes it was parsed from,
// so a hit is served as the upstream wrote it, unknown top-level fields
// included.
type Response struct {
	// Data is the result of the operation
	Data json.RawMessage `json:"data,omitempty"`

	// Errors are the GraphQL errors of the response
	Errors []json.RawMessage `json:"errors,omitempty"`

	// Extensions is the optional extensions map
	Extensions json.RawMessage `json:"extensions,omitempty"`

	raw []byte
}

// ParseResponse decodes a GraphQL response body and retains body verbatim.
func ParseResponse(body []byte) (*Response, error) {
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.New("response is not a JSON object")
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	resp.raw = append([]byte(nil), body...)
	return &resp, nil
}

// Bytes returns the serialized response. Parsed responses return their
// original bytes; responses built in code are marshaled.
func (r *Response) Bytes() ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}
	if r.raw != nil {
		return r.raw, nil
	}
	return json.Marshal(r)
}

// HasErrors reports whether the response carries GraphQL errors.
func (r *Response) HasErrors() bool {
	return r != nil && len(r.Errors) > 0
}

// Slot is a decoded store value.
type Slot struct {
	State    SlotState
	Response *Response
}

// encodeLoading returns the stored form of the loading marker.
func encodeLoading() []byte {
	return []byte{tagLoading}
}

// encodeReady returns the stored form of a ready response.
func encodeReady(resp *Response) ([]byte, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}
	body, err := resp.Bytes()
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, tagReady)
	return append(out, body...), nil
}

// decodeSlot interprets a raw store value.
func decodeSlot(raw []byte, found bool) (Slot, error) {
	if !found {
		return Slot{State: SlotAbsent}, nil
	}
	if len(raw) == 0 {
		return Slot{}, fmt.Errorf("%w: empty value", ErrInvalidEntry)
	}

	switch raw[0] {
	case tagLoading:
		if len(raw) != 1 {
			return Slot{}, fmt.Errorf("%w: trailing bytes after loading tag", ErrInvalidEntry)
		}
		return Slot{State: SlotLoading}, nil
	case tagReady:
		resp, err := ParseResponse(raw[1:])
		if err != nil {
			return Slot{}, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
		}
		return Slot{State: SlotReady, Response: resp}, nil
	default:
		return Slot{}, fmt.Errorf("%w: unknown tag %q", ErrInvalidEntry, raw[0])
	}
}
