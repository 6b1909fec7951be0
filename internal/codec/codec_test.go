package codec

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []any{
		nil,
		true,
		"hello \"world\"\n",
		0.1,
		-1e-300,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
		1.0 / 3.0,
		[]any{1.5, "a", false, nil},
		map[string]any{
			"x":      2.5,
			"nested": map[string]any{"y": []any{1.0, 2.0}},
			"<tag>":  "a&b",
		},
	}

	for _, v := range values {
		data, err := Encode(v)
		if err != nil {
			t.Fatalf("Encode(%v) failed: %v", v, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", data, err)
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("Round trip mismatch: got %#v, want %#v", got, v)
		}
	}
}

func TestEncodeDeterministic(t *testing.T) {
	v := map[string]any{"b": 1.0, "a": 2.0, "c": map[string]any{"z": 1.0, "y": 2.0}}

	first, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := Encode(v)
		if string(again) != string(first) {
			t.Fatalf("Encode not deterministic: %s vs %s", again, first)
		}
	}

	want := `{"a":2,"b":1,"c":{"y":2,"z":1}}`
	if string(first) != want {
		t.Errorf("Expected %s, got %s", want, first)
	}
}

func TestEncodeHasNoTrailingNewline(t *testing.T) {
	data, err := Encode([]any{1.0})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if data[len(data)-1] == '\n' {
		t.Error("Encoded payload must not end with a newline")
	}
}

func TestEncodeRejectsNaN(t *testing.T) {
	if _, err := Encode(map[string]any{"value": math.NaN()}); err == nil {
		t.Error("Expected error encoding NaN")
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, raw := range []string{"", "{", `{"x":}`, "[1,2", `{} {}`, `{"a":1} }`} {
		_, err := Decode([]byte(raw))
		var decErr *DecodeError
		if !errors.As(err, &decErr) {
			t.Errorf("Decode(%q): expected *DecodeError, got %v", raw, err)
			continue
		}
		if string(decErr.Raw) != raw {
			t.Errorf("DecodeError.Raw = %q, want %q", decErr.Raw, raw)
		}
	}
}

func TestDecodeNumbersAreFloat64(t *testing.T) {
	v, err := Decode([]byte(`{"evals":12,"seed":9007199254740993}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	m := v.(map[string]any)
	if evals, ok := m["evals"].(float64); !ok || evals != 12 {
		t.Errorf("Expected evals as float64 12, got %T %v", m["evals"], m["evals"])
	}
	// 2^53 + 1 is not representable and rounds to 2^53.
	if seed := m["seed"].(float64); seed != 9007199254740992 {
		t.Errorf("Expected seed rounded to 2^53, got %v", seed)
	}
}
