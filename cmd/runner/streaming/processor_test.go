package streaming

import (
	"io"
	"strings"
	"testing"
)

func TestFieldsFor(t *testing.T) {
	selected := []string{"agent1_name", "agent1_age", "agent2_name", "plain"}

	fields := FieldsFor("agent1", selected)
	if len(fields) != 2 || fields[0] != "name" || fields[1] != "age" {
		t.Errorf("FieldsFor = %v, want [name age]", fields)
	}
	if got := FieldsFor("agent3", selected); got != nil {
		t.Errorf("FieldsFor for unselected block = %v, want nil", got)
	}
}

func TestExtract_SingleField(t *testing.T) {
	raw := []byte(`{"name": "alice", "age": 30}`)
	got := Extract(raw, []string{"name"})
	if string(got) != "alice" {
		t.Errorf("Extract = %q, want alice", got)
	}
}

func TestExtract_MultipleFieldsJoinedByNewline(t *testing.T) {
	raw := []byte(`{"name": "alice", "age": 30}`)
	got := Extract(raw, []string{"name", "age"})
	if string(got) != "alice\n30" {
		t.Errorf("Extract = %q, want %q", got, "alice\n30")
	}
}

func TestExtract_NonStringValuesKeepRawJSON(t *testing.T) {
	raw := []byte(`{"user": {"id": 7}, "ok": true}`)
	got := Extract(raw, []string{"user", "ok"})
	if string(got) != "{\"id\": 7}\ntrue" {
		t.Errorf("Extract = %q", got)
	}
}

func TestExtract_MissingFieldsSkipped(t *testing.T) {
	raw := []byte(`{"name": "alice"}`)
	got := Extract(raw, []string{"missing", "name"})
	if string(got) != "alice" {
		t.Errorf("Extract = %q, want alice", got)
	}
}

// A parsed payload carrying none of the selected fields has already been
// extracted once; it must pass through untouched.
func TestExtract_NoSelectedFieldsPassesThrough(t *testing.T) {
	raw := []byte(`{"name": "alice"}`)
	if got := Extract(raw, []string{"missing"}); string(got) != string(raw) {
		t.Errorf("Extract with no present fields = %q, want payload unchanged", got)
	}
}

func TestExtract_NonJSONPassesThrough(t *testing.T) {
	raw := []byte("alice\n30")
	got := Extract(raw, []string{"name", "age"})
	if string(got) != "alice\n30" {
		t.Errorf("non-JSON payload changed: %q", got)
	}
}

// Running the transform over its own output must be a no-op, including
// when a selected field holds an object and the first pass therefore
// emits a JSON-looking payload.
func TestExtract_Idempotent(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		fields []string
	}{
		{"string fields", `{"name": "alice", "age": 30}`, []string{"name", "age"}},
		{"object field", `{"user": {"name": "alice"}, "ok": true}`, []string{"user"}},
		{"array field", `{"tags": ["a", "b"]}`, []string{"tags"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			once := Extract([]byte(tt.raw), tt.fields)
			if len(once) == 0 {
				t.Fatalf("first pass produced nothing")
			}
			twice := Extract(once, tt.fields)
			if string(once) != string(twice) {
				t.Errorf("Extract not idempotent: %q then %q", once, twice)
			}
		})
	}
}

func TestExtract_InvalidJSONProducesEmpty(t *testing.T) {
	raw := []byte(`{"name": "alice"`)
	if got := Extract(raw, []string{"name"}); got != nil {
		t.Errorf("truncated JSON produced %q, want nil", got)
	}
}

func TestTransform_NoSelectionReturnsOriginalStream(t *testing.T) {
	p := NewProcessor(nil)
	src := io.NopCloser(strings.NewReader("raw content"))

	out := p.Transform(src, "agent1", []string{"other_name"})
	if out != src {
		t.Errorf("stream replaced despite empty selection")
	}
}

func TestTransform_ExtractsSelectedFields(t *testing.T) {
	p := NewProcessor(nil)
	src := io.NopCloser(strings.NewReader(`{"name": "alice", "age": 30}`))

	out := p.Transform(src, "agent1", []string{"agent1_name", "agent1_age"})
	raw, err := io.ReadAll(out)
	if err != nil {
		t.Fatalf("read transformed stream: %v", err)
	}
	if string(raw) != "alice\n30" {
		t.Errorf("transformed stream = %q, want %q", raw, "alice\n30")
	}
}
