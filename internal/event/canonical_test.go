package event

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

func TestMarshalCanonical_SortsKeysAlphabetically(t *testing.T) {
	obj := map[string]any{
		"zeta":  int64(1),
		"alpha": int64(2),
		"mid":   int64(3),
	}

	got, err := MarshalCanonical(obj)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}

	want := `{"alpha":2,"mid":3,"zeta":1}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshalCanonical_SortsKeysByUTF16Units(t *testing.T) {
	// U+1F600 encodes as surrogates D83D DE00 in UTF-16, which sort BEFORE
	// U+FF21 (fullwidth A). UTF-8 byte comparison would produce the opposite
	// order (0xF0... > 0xEF...), so this catches a UTF-8 sort regression.
	obj := map[string]any{
		"\U0001F600": int64(1),
		"\uFF21":     int64(2),
	}

	got, err := MarshalCanonical(obj)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}

	want := `{"` + "\U0001F600" + `":1,"` + "\uFF21" + `":2}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshalCanonical_NFCNormalizesStrings(t *testing.T) {
	// "e" + combining acute accent normalizes to precomposed U+00E9.
	got, err := MarshalCanonical("e\u0301")
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	if string(got) != "\"\u00e9\"" {
		t.Errorf("got %s, want NFC-normalized form", got)
	}
}

func TestMarshalCanonical_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalCanonical("<tag> & more")
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}
	if string(got) != `"<tag> & more"` {
		t.Errorf("HTML characters must not be escaped, got %s", got)
	}
}

func TestMarshalCanonical_RejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"pct": 1.5})
	if err == nil {
		t.Fatal("expected error for float value, got nil")
	}
	if !strings.Contains(err.Error(), "float") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMarshalCanonical_RejectsNull(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"missing": nil})
	if err == nil {
		t.Fatal("expected error for null value, got nil")
	}
}

func TestMarshalCanonical_NestedStructures(t *testing.T) {
	obj := map[string]any{
		"outputs": []any{
			map[string]any{"name": "alpha.txt", "size_bytes": int64(5)},
		},
		"ok": true,
	}

	got, err := MarshalCanonical(obj)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}

	want := `{"ok":true,"outputs":[{"name":"alpha.txt","size_bytes":5}]}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshalCanonical_ReceiptBodyGolden(t *testing.T) {
	body := map[string]any{
		"schema_version": "1.0",
		"job_id":         "job_20260101_000000_abcd1234",
		"run_id":         "0194f9a0-0000-7000-8000-000000000000",
		"receipt_status": "final",
		"outputs": []any{
			map[string]any{"name": "alpha.txt", "sha256": "aa", "size_bytes": int64(5)},
		},
		"summary": map[string]any{
			"items_completed": int64(3),
			"items_total":     int64(3),
		},
	}

	got, err := MarshalCanonical(body)
	if err != nil {
		t.Fatalf("MarshalCanonical() failed: %v", err)
	}

	g := goldie.New(t)
	g.Assert(t, "receipt_canonical", got)
}
