package entity

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizeObject(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "sorts keys", input: `{"b":1,"a":2}`, want: `{"a":2,"b":1}`},
		{name: "preserves number literals", input: `{"x":1.50,"y":10000000000000001}`, want: `{"x":1.50,"y":10000000000000001}`},
		{name: "idempotent", input: `{"a":2,"b":1}`, want: `{"a":2,"b":1}`},
		{name: "nested objects", input: `{"outer":{"z":1,"a":2}}`, want: `{"outer":{"a":2,"z":1}}`},
		{name: "array input", input: `[1,2]`, wantErr: true},
		{name: "string input", input: `"hello"`, wantErr: true},
		{name: "null input", input: `null`, wantErr: true},
		{name: "malformed", input: `{"a":`, wantErr: true},
		{name: "trailing garbage", input: `{"a":1} {"b":2}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeObject(json.RawMessage(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				var pe *PayloadError
				if !errors.As(err, &pe) {
					t.Fatalf("expected PayloadError, got %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseItem(t *testing.T) {
	t.Run("trims id for the key", func(t *testing.T) {
		id, canon, err := ParseItem(json.RawMessage(`{"id":" a ","name":"A"}`), "glyph")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "a" {
			t.Errorf("id = %q, want %q", id, "a")
		}
		// The payload itself is left untouched apart from canonicalization.
		if string(canon) != `{"id":" a ","name":"A"}` {
			t.Errorf("canon = %s", canon)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		if _, _, err := ParseItem(json.RawMessage(`{"name":"A"}`), "glyph"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("blank id", func(t *testing.T) {
		if _, _, err := ParseItem(json.RawMessage(`{"id":"  "}`), "glyph"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("non-string id", func(t *testing.T) {
		if _, _, err := ParseItem(json.RawMessage(`{"id":7}`), "glyph"); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestParseArrayByID(t *testing.T) {
	t.Run("later duplicate wins", func(t *testing.T) {
		m, err := ParseArrayByID(json.RawMessage(`[{"id":"a","v":1},{"id":"a","v":2}]`), "glyphs")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(m) != 1 {
			t.Fatalf("len = %d, want 1", len(m))
		}
		if string(m["a"]) != `{"id":"a","v":2}` {
			t.Errorf("m[a] = %s", m["a"])
		}
	})

	t.Run("non-array", func(t *testing.T) {
		if _, err := ParseArrayByID(json.RawMessage(`{"id":"a"}`), "glyphs"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("non-object element", func(t *testing.T) {
		if _, err := ParseArrayByID(json.RawMessage(`[42]`), "glyphs"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("null is empty", func(t *testing.T) {
		m, err := ParseArrayByID(json.RawMessage(`null`), "glyphs")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(m) != 0 {
			t.Errorf("len = %d, want 0", len(m))
		}
	})
}

func TestMarshalByID(t *testing.T) {
	m := map[string]json.RawMessage{
		"b": json.RawMessage(`{"id":"b"}`),
		"a": json.RawMessage(`{"id":"a"}`),
		"c": json.RawMessage(`{"id":"c"}`),
	}
	got := string(MarshalByID(m))
	want := `[{"id":"a"},{"id":"b"},{"id":"c"}]`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}

	if got := string(MarshalByID(nil)); got != "[]" {
		t.Errorf("empty map: got %s, want []", got)
	}
}

func TestNormalizeSnapshot(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		glyphs, syntaxes, metrics, err := NormalizeSnapshot(nil, json.RawMessage(`null`), nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(glyphs) != 0 || len(syntaxes) != 0 {
			t.Errorf("expected empty maps, got %d glyphs, %d syntaxes", len(glyphs), len(syntaxes))
		}
		if string(metrics) != "{}" {
			t.Errorf("metrics = %s, want {}", metrics)
		}
	})

	t.Run("populated", func(t *testing.T) {
		glyphs, _, metrics, err := NormalizeSnapshot(
			json.RawMessage(`[{"id":"a"}]`), nil, json.RawMessage(`{"upm":1000}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(glyphs) != 1 {
			t.Errorf("glyphs = %d, want 1", len(glyphs))
		}
		if string(metrics) != `{"upm":1000}` {
			t.Errorf("metrics = %s", metrics)
		}
	})

	t.Run("invalid glyphs", func(t *testing.T) {
		if _, _, _, err := NormalizeSnapshot(json.RawMessage(`{"oops":true}`), nil, nil); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("invalid metrics", func(t *testing.T) {
		if _, _, _, err := NormalizeSnapshot(nil, nil, json.RawMessage(`[1]`)); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestStringField(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		key  string
		want string
	}{
		{name: "present", raw: `{"name":" A.alt "}`, key: "name", want: "A.alt"},
		{name: "missing", raw: `{"id":"a"}`, key: "name", want: ""},
		{name: "non-string", raw: `{"name":3}`, key: "name", want: ""},
		{name: "not an object", raw: `[1]`, key: "name", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StringField(json.RawMessage(tt.raw), tt.key); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
