package codec

import "testing"

func TestRoundTripKeepsStringKeyedMaps(t *testing.T) {
	in := map[string]any{
		"name":  "arena",
		"level": int64(3),
		"tags":  []any{"a", "b"},
		"nested": map[string]any{
			"x": int64(-1),
		},
	}
	b, err := Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]any
	if err := Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	nested, ok := out["nested"].(map[string]any)
	if !ok {
		t.Fatalf("nested map decoded as %T", out["nested"])
	}
	if nested["x"] != int64(-1) {
		t.Fatalf("nested x = %#v", nested["x"])
	}
	if out["level"] != int64(3) {
		t.Fatalf("level = %#v (%T)", out["level"], out["level"])
	}
}

func TestSizeIsDeterministic(t *testing.T) {
	a := map[string]any{"b": int64(1), "a": "x", "c": []any{int64(1), int64(2)}}
	b := map[string]any{"c": []any{int64(1), int64(2)}, "a": "x", "b": int64(1)}

	sa, err := Size(a)
	if err != nil {
		t.Fatalf("size a: %v", err)
	}
	sb, err := Size(b)
	if err != nil {
		t.Fatalf("size b: %v", err)
	}
	if sa != sb {
		t.Fatalf("sizes differ: %d vs %d", sa, sb)
	}
	if sa <= 0 {
		t.Fatalf("expected positive size, got %d", sa)
	}
}
