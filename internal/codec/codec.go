// Package codec converts structured values to and from JSON frame payloads.
//
// The codec knows nothing about message semantics. Decoded values use the
// generic JSON mapping: map[string]any, []any, float64, string, bool and nil.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// DecodeError reports a payload that is not valid JSON.
// Raw holds the offending payload for diagnosis.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode payload %q: %v", truncate(e.Raw, 256), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serializes v to compact JSON. Map keys are emitted in sorted order
// and float64 values use the shortest representation that round-trips, so the
// output is deterministic for a given value.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	// Encoder terminates every value with a newline; framing is the transport's job.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses one JSON value from data.
// Trailing content after the value is rejected.
//
// Objects decode to map[string]any, arrays to []any and every number to
// float64, so integers beyond 2^53 lose precision. Protocol values are
// float64 on both sides; decode with DecodeInto and a json.Number field
// where exact integers matter.
func Decode(data []byte) (any, error) {
	var v any
	if err := DecodeInto(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeInto parses one JSON value from data into dst.
func DecodeInto(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(dst); err != nil {
		return &DecodeError{Raw: data, Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return &DecodeError{Raw: data, Err: fmt.Errorf("unexpected data after JSON value")}
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
