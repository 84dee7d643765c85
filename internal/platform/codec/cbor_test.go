package codec

import (
	"bytes"
	"testing"
)

type envelope struct {
	Kind    string         `cbor:"kind"`
	Payload map[string]any `cbor:"payload"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	a := envelope{Kind: "pixel", Payload: map[string]any{"x": 1, "y": 2, "color": "FF0000"}}
	b := envelope{Kind: "pixel", Payload: map[string]any{"color": "FF0000", "y": 2, "x": 1}}

	first, err := Marshal(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	second, err := Marshal(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("expected identical encodings for equal maps")
	}
}

func TestUnmarshalDecodesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	top, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("top-level type = %T, want map[string]any", out)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Fatalf("nested type = %T, want map[string]any", top["nested"])
	}
}
