package query

import (
	"strings"
	"testing"

	"github.com/ciscoittech/pingtopass-dataplane/types"
)

func TestKeyOrderIndependent(t *testing.T) {
	a := Key(types.Operation{Name: "questionsByExam", Params: map[string]any{
		"examId": 42, "limit": 50, "offset": 0,
	}})
	b := Key(types.Operation{Name: "questionsByExam", Params: map[string]any{
		"offset": 0, "examId": 42, "limit": 50,
	}})

	if a != b {
		t.Fatalf("Logically equivalent reads fingerprint differently: %q vs %q", a, b)
	}
}

func TestKeyShape(t *testing.T) {
	key := Key(types.Operation{Name: "examById", Params: map[string]any{"id": 42}})
	if key != "examById:id=42" {
		t.Fatalf("Unexpected key: %q", key)
	}

	if key := Key(types.Operation{Name: "examList"}); key != "examList" {
		t.Fatalf("Parameterless operation should key on its name, got %q", key)
	}
}

func TestKeyNumericNormalization(t *testing.T) {
	// JSON-decoded params arrive as float64; they must fingerprint the
	// same as their integer counterparts.
	a := Key(types.Operation{Name: "examById", Params: map[string]any{"id": 42}})
	b := Key(types.Operation{Name: "examById", Params: map[string]any{"id": float64(42)}})
	if a != b {
		t.Fatalf("42 and 42.0 fingerprint differently: %q vs %q", a, b)
	}
}

func TestKeyHashesLongValues(t *testing.T) {
	long := strings.Repeat("x", 300)
	key := Key(types.Operation{Name: "search", Params: map[string]any{"q": long}})

	if strings.Contains(key, long) {
		t.Fatal("Oversized values must not appear verbatim in keys")
	}
	if key != Key(types.Operation{Name: "search", Params: map[string]any{"q": long}}) {
		t.Fatal("Hashed values must stay deterministic")
	}
}

func TestKeyHashesValuesWithKeySyntax(t *testing.T) {
	// A value carrying the separator or "=" must not forge extra
	// segments: that would collide distinct operations onto one key.
	a := Key(types.Operation{Name: "search", Params: map[string]any{"a": "x:b=1"}})
	b := Key(types.Operation{Name: "search", Params: map[string]any{"a": "x", "b": 1}})
	if a == b {
		t.Fatalf("Distinct operations collide on one cache key: %q", a)
	}
	if strings.Contains(a, "x:b=1") {
		t.Fatalf("Reserved characters appear verbatim in key %q", a)
	}
}

func TestKeySyntaxCannotEscapePrefixScope(t *testing.T) {
	// A hostile userId must not place its key under another user's
	// invalidation prefix, or cache entries leak across users.
	key := Key(types.Operation{Name: "userSummary", Params: map[string]any{"userId": "7:span=week"}})
	if types.MatchesPrefix(key, Prefix("userSummary", "userId", 7)) {
		t.Fatalf("Key %q for a different user is covered by prefix %q",
			key, Prefix("userSummary", "userId", 7))
	}
}

func TestKeyStructuredValues(t *testing.T) {
	op := types.Operation{Name: "search", Params: map[string]any{
		"filters": map[string]any{"vendor": "cisco", "level": "associate"},
	}}
	if Key(op) != Key(op) {
		t.Fatal("Structured values must fingerprint deterministically")
	}
}

func TestPrefixMatchesKeyEncoding(t *testing.T) {
	key := Key(types.Operation{Name: "userSummary", Params: map[string]any{"userId": 7, "span": "week"}})
	prefix := Prefix("userSummary", "userId", 7)

	if !types.MatchesPrefix(key, prefix) {
		t.Fatalf("Prefix %q should cover key %q", prefix, key)
	}
	if types.MatchesPrefix(key, Prefix("userSummary", "userId", 71)) {
		t.Fatal("Another user's prefix must not cover the key")
	}
}
