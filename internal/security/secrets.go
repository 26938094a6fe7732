package security

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// symbolicRefPattern matches {{name}} per spec.md §6's syntax
// {{[a-z0-9_-]+}}.
var symbolicRefPattern = regexp.MustCompile(`\{\{([a-z0-9_-]+)\}\}`)

// SecretStore is the abstract persistence interface a secret resolver
// sources from. The OS keyring is the default implementation; a file or
// Vault-backed store can implement the same interface.
type SecretStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) (bool, error)
	ListKeys() ([]string, error)
	Has(key string) bool
}

// KeyringSecretStore is a SecretStore backed by the OS keyring.
type KeyringSecretStore struct {
	service string

	mu      sync.Mutex
	known   map[string]struct{} // keyring has no "list" primitive; track keys we touched
}

// NewKeyringSecretStore creates a store scoped under service in the OS
// keyring (Keychain / Secret Service / Credential Manager depending on
// platform).
func NewKeyringSecretStore(service string) *KeyringSecretStore {
	return &KeyringSecretStore{service: service, known: make(map[string]struct{})}
}

func (k *KeyringSecretStore) Get(key string) (string, bool) {
	v, err := keyring.Get(k.service, key)
	if err != nil {
		return "", false
	}
	return v, true
}

func (k *KeyringSecretStore) Set(key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("keyring set %q: %w", key, err)
	}
	k.mu.Lock()
	k.known[key] = struct{}{}
	k.mu.Unlock()
	return nil
}

func (k *KeyringSecretStore) Delete(key string) (bool, error) {
	if err := keyring.Delete(k.service, key); err != nil {
		if err == keyring.ErrNotFound {
			return false, nil
		}
		return false, fmt.Errorf("keyring delete %q: %w", key, err)
	}
	k.mu.Lock()
	delete(k.known, key)
	k.mu.Unlock()
	return true, nil
}

func (k *KeyringSecretStore) ListKeys() ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	keys := make([]string, 0, len(k.known))
	for key := range k.known {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (k *KeyringSecretStore) Has(key string) bool {
	_, ok := k.Get(key)
	return ok
}

// Resolver recognises {{name}} symbolic references inside any string
// value and resolves them at call time: first an in-scope session table,
// then the pluggable SecretStore.
type Resolver struct {
	store SecretStore

	mu       sync.RWMutex
	sessions map[string]map[string]string // session_id -> name -> value
}

// NewResolver builds a Resolver over store.
func NewResolver(store SecretStore) *Resolver {
	return &Resolver{store: store, sessions: make(map[string]map[string]string)}
}

// SetSessionSecret binds name to value in the scope of sessionID, checked
// before the backing SecretStore during resolution.
func (r *Resolver) SetSessionSecret(sessionID, name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scope, ok := r.sessions[sessionID]
	if !ok {
		scope = make(map[string]string)
		r.sessions[sessionID] = scope
	}
	scope[name] = value
}

// IsSymbolicRef reports whether value is exactly one {{name}} token.
func (r *Resolver) IsSymbolicRef(value string) bool {
	return symbolicRefPattern.FindString(value) == value && value != ""
}

// ResolveSymbolic resolves a value if it is a symbolic reference,
// checking the session-scoped table before the secret store. Returns
// ("", false) if value is not symbolic or the name is unknown everywhere.
func (r *Resolver) ResolveSymbolic(value, sessionID string) (string, bool) {
	m := symbolicRefPattern.FindStringSubmatch(value)
	if m == nil || m[0] != value {
		return "", false
	}
	name := m[1]

	if sessionID != "" {
		r.mu.RLock()
		scope := r.sessions[sessionID]
		r.mu.RUnlock()
		if scope != nil {
			if v, ok := scope[name]; ok {
				return v, true
			}
		}
	}

	if r.store != nil {
		if v, ok := r.store.Get(name); ok {
			return v, true
		}
	}
	return "", false
}

// ResolveForExecution resolves a value that may be symbolic, carry one or
// more embedded {{name}} references, a bare secret-store key name, or a
// literal. Every embedded reference is substituted independently so that
// text produced by ConvertToSymbolic (which rewrites in place inside a
// sentence, not just whole-value tokens) round-trips back to the original
// per spec.md §8's round-trip law. Unknown references are left untouched
// rather than erroring, and a value with no references at all falls back
// to a bare secret-store key lookup, then the literal value.
func (r *Resolver) ResolveForExecution(value, sessionID string) string {
	if value == "" {
		return value
	}
	if symbolicRefPattern.MatchString(value) {
		return symbolicRefPattern.ReplaceAllStringFunc(value, func(ref string) string {
			if resolved, ok := r.ResolveSymbolic(ref, sessionID); ok {
				return resolved
			}
			return ref
		})
	}
	if r.store != nil {
		if v, ok := r.store.Get(value); ok {
			return v
		}
	}
	return value
}

// StoreKey persists a secret under key.
func (r *Resolver) StoreKey(key, value string) error {
	if r.store == nil {
		return fmt.Errorf("secrets: no backing store configured")
	}
	return r.store.Set(key, value)
}

// GetKey returns the literal secret value for key, if known.
func (r *Resolver) GetKey(key string) (string, bool) {
	if r.store == nil {
		return "", false
	}
	return r.store.Get(key)
}

// DeleteKey removes a secret, reporting whether it existed.
func (r *Resolver) DeleteKey(key string) (bool, error) {
	if r.store == nil {
		return false, fmt.Errorf("secrets: no backing store configured")
	}
	return r.store.Delete(key)
}

// ListKeys returns every known secret key name.
func (r *Resolver) ListKeys() ([]string, error) {
	if r.store == nil {
		return nil, nil
	}
	return r.store.ListKeys()
}

// HasKey reports whether key exists in the backing store.
func (r *Resolver) HasKey(key string) bool {
	if r.store == nil {
		return false
	}
	return r.store.Has(key)
}

// ConvertToSymbolic scans text for literal secret values known to the
// store and rewrites them as {{name}} references, for safe logging and
// outbound sanitisation. Longer secret values are substituted first so a
// shorter value that happens to be a substring of a longer one doesn't
// shadow it.
func (r *Resolver) ConvertToSymbolic(text, sessionID string) string {
	if r.store == nil || text == "" {
		return text
	}
	keys, err := r.store.ListKeys()
	if err != nil || len(keys) == 0 {
		return text
	}

	type kv struct{ key, value string }
	var pairs []kv
	for _, key := range keys {
		if v, ok := r.store.Get(key); ok && v != "" {
			pairs = append(pairs, kv{key, v})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return len(pairs[i].value) > len(pairs[j].value) })

	out := text
	for _, p := range pairs {
		out = strings.ReplaceAll(out, p.value, "{{"+p.key+"}}")
	}
	return out
}
