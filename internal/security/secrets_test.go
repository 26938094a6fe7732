package security

import "testing"

// memStore is an in-memory SecretStore for tests, standing in for the
// OS keyring.
type memStore struct {
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (m *memStore) Get(key string) (string, bool) { v, ok := m.data[key]; return v, ok }
func (m *memStore) Set(key, value string) error   { m.data[key] = value; return nil }
func (m *memStore) Delete(key string) (bool, error) {
	_, ok := m.data[key]
	delete(m.data, key)
	return ok, nil
}
func (m *memStore) ListKeys() ([]string, error) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys, nil
}
func (m *memStore) Has(key string) bool { _, ok := m.data[key]; return ok }

func TestIsSymbolicRef(t *testing.T) {
	r := NewResolver(newMemStore())
	if !r.IsSymbolicRef("{{openai_key}}") {
		t.Fatal("expected symbolic ref to be recognised")
	}
	if r.IsSymbolicRef("not a ref") {
		t.Fatal("expected plain text to not be a symbolic ref")
	}
	if r.IsSymbolicRef("prefix {{openai_key}} suffix") {
		t.Fatal("a ref embedded in other text is not itself symbolic")
	}
}

func TestResolveSymbolicSessionScopeBeforeStore(t *testing.T) {
	store := newMemStore()
	store.Set("api_key", "store-value")
	r := NewResolver(store)
	r.SetSessionSecret("sess-1", "api_key", "session-value")

	v, ok := r.ResolveSymbolic("{{api_key}}", "sess-1")
	if !ok || v != "session-value" {
		t.Fatalf("expected session-scoped value to win, got %q ok=%v", v, ok)
	}

	v, ok = r.ResolveSymbolic("{{api_key}}", "other-session")
	if !ok || v != "store-value" {
		t.Fatalf("expected store fallback, got %q ok=%v", v, ok)
	}
}

func TestResolveSymbolicUnknownReturnsFalse(t *testing.T) {
	r := NewResolver(newMemStore())
	if _, ok := r.ResolveSymbolic("{{missing}}", ""); ok {
		t.Fatal("expected unknown symbolic ref to resolve to nothing")
	}
}

func TestResolveForExecutionFallsBackToLiteral(t *testing.T) {
	r := NewResolver(newMemStore())
	if got := r.ResolveForExecution("plain-literal", ""); got != "plain-literal" {
		t.Fatalf("expected literal fallthrough, got %q", got)
	}
}

func TestConvertToSymbolicRoundTrip(t *testing.T) {
	store := newMemStore()
	store.Set("openai_key", "sk-ABC-123")
	r := NewResolver(store)

	text := "Authorization: Bearer sk-ABC-123"
	symbolic := r.ConvertToSymbolic(text, "")
	if symbolic != "Authorization: Bearer {{openai_key}}" {
		t.Fatalf("expected symbolic rewrite, got %q", symbolic)
	}

	resolved := r.ResolveForExecution(symbolic, "")
	if resolved != text {
		t.Fatalf("round-trip law violated: got %q, want %q", resolved, text)
	}
}

func TestResolveForExecutionSubstitutesMultipleEmbeddedRefs(t *testing.T) {
	store := newMemStore()
	store.Set("user", "alice")
	store.Set("pass", "hunter2")
	r := NewResolver(store)

	got := r.ResolveForExecution("login as {{user}} with {{pass}}", "")
	if got != "login as alice with hunter2" {
		t.Fatalf("expected both refs substituted, got %q", got)
	}
}

func TestResolveForExecutionLeavesUnknownEmbeddedRefUntouched(t *testing.T) {
	r := NewResolver(newMemStore())
	got := r.ResolveForExecution("Authorization: Bearer {{missing_key}}", "")
	if got != "Authorization: Bearer {{missing_key}}" {
		t.Fatalf("expected unknown ref left untouched, got %q", got)
	}
}

func TestConvertToSymbolicLongestKeyFirst(t *testing.T) {
	store := newMemStore()
	store.Set("short", "ab")
	store.Set("long", "abcdef")
	r := NewResolver(store)

	out := r.ConvertToSymbolic("value is abcdef", "")
	if out != "value is {{long}}" {
		t.Fatalf("expected longest-value-first substitution, got %q", out)
	}
}

func TestStoreGetDeleteKeyLifecycle(t *testing.T) {
	r := NewResolver(newMemStore())
	if err := r.StoreKey("k1", "v1"); err != nil {
		t.Fatalf("unexpected error storing key: %v", err)
	}
	if v, ok := r.GetKey("k1"); !ok || v != "v1" {
		t.Fatalf("expected stored value, got %q ok=%v", v, ok)
	}
	if !r.HasKey("k1") {
		t.Fatal("expected HasKey true after store")
	}
	if ok, err := r.DeleteKey("k1"); err != nil || !ok {
		t.Fatalf("expected successful delete, got ok=%v err=%v", ok, err)
	}
	if r.HasKey("k1") {
		t.Fatal("expected HasKey false after delete")
	}
}

func TestNoBackingStoreReturnsError(t *testing.T) {
	r := NewResolver(nil)
	if err := r.StoreKey("k", "v"); err == nil {
		t.Fatal("expected error storing with no backing store")
	}
	if _, err := r.DeleteKey("k"); err == nil {
		t.Fatal("expected error deleting with no backing store")
	}
}
