package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ── Reserved keys ─────────────────────────────────────────────────────────────

const (
	// RegistryKey is the sub-block that configures the registry itself.
	RegistryKey = "registry"
	// ByClassKey maps type names to init-argument overrides.
	ByClassKey = "by_class"
	// ByNameKey maps metadata names to init-argument overrides.
	ByNameKey = "by_name"
	// AutostartKey lists package-qualified type names started by Registry.Start.
	AutostartKey = "autostart"
)

// Store is a read-only key/value source consulted when deferred config values
// are resolved. It is never mutated after construction, so concurrent reads
// need no locking.
type Store struct {
	values map[string]any
}

// New wraps values in a Store. A nil map yields an empty store.
func New(values map[string]any) *Store {
	if values == nil {
		values = map[string]any{}
	}
	return &Store{values: values}
}

// Empty returns a store with no values.
func Empty() *Store { return New(nil) }

// Get returns the value stored under key.
func (s *Store) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}

// Contains reports whether key is present.
func (s *Store) Contains(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Lookup implements the mapping contract used by nested config walks.
func (s *Store) Lookup(key string) (any, bool) { return s.Get(key) }

// Nested walks keys through nested mappings, stopping at the first missing
// segment.
func (s *Store) Nested(keys ...string) (any, bool) {
	var cur any = s
	for _, k := range keys {
		next, ok := Index(cur, k)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Map returns a shallow copy of the top-level values.
func (s *Store) Map() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Len returns the number of top-level keys.
func (s *Store) Len() int { return len(s.values) }

// InitKwargs returns the init-argument overrides configured for a type. Layers
// apply in order (short type name, qualified type name, explicit name) and
// later layers win.
func (s *Store) InitKwargs(shortName, qualifiedName, name string) map[string]any {
	result := map[string]any{}
	reg, ok := s.registryBlock()
	if !ok {
		return result
	}

	if byClass, ok := Index(reg, ByClassKey); ok {
		for _, cls := range []string{shortName, qualifiedName} {
			if cls == "" {
				continue
			}
			if kwargs, ok := Index(byClass, cls); ok {
				merge(result, kwargs)
			}
		}
	}

	if name != "" {
		if byName, ok := Index(reg, ByNameKey); ok {
			if kwargs, ok := Index(byName, name); ok {
				merge(result, kwargs)
			}
		}
	}
	return result
}

// Autostart returns the qualified type names listed under registry.autostart.
func (s *Store) Autostart() []string {
	reg, ok := s.registryBlock()
	if !ok {
		return nil
	}
	raw, ok := Index(reg, AutostartKey)
	if !ok {
		return nil
	}
	var out []string
	switch list := raw.(type) {
	case []string:
		out = append(out, list...)
	case []any:
		for _, item := range list {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
	}
	return out
}

func (s *Store) registryBlock() (any, bool) {
	if s == nil {
		return nil, false
	}
	return Index(s, RegistryKey)
}

// ── Mapping helpers ──────────────────────────────────────────────────────────

// Lookuper is any mapping-like value that supports keyed lookup.
type Lookuper interface {
	Lookup(key string) (any, bool)
}

// Index looks key up in a mapping-like value. Supported shapes are
// map[string]any, map[any]any, map[string]string and Lookuper.
func Index(m any, key string) (any, bool) {
	switch mm := m.(type) {
	case nil:
		return nil, false
	case *Store:
		if mm == nil {
			return nil, false
		}
		v, ok := mm.values[key]
		return v, ok
	case map[string]any:
		v, ok := mm[key]
		return v, ok
	case map[any]any:
		v, ok := mm[key]
		return v, ok
	case map[string]string:
		v, ok := mm[key]
		return v, ok
	case Lookuper:
		return mm.Lookup(key)
	}
	return nil, false
}

func merge(dst map[string]any, src any) {
	switch m := src.(type) {
	case map[string]any:
		for k, v := range m {
			dst[k] = v
		}
	case map[any]any:
		for k, v := range m {
			if ks, ok := k.(string); ok {
				dst[ks] = v
			}
		}
	case map[string]string:
		for k, v := range m {
			dst[k] = v
		}
	}
}

// ── Loading ──────────────────────────────────────────────────────────────────

// ParseYAML decodes a YAML document into a Store.
func ParseYAML(data []byte) (*Store, error) {
	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	return New(values), nil
}

// ParseJSON decodes a JSON object into a Store.
func ParseJSON(data []byte) (*Store, error) {
	values := map[string]any{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("config: parse json: %w", err)
	}
	return New(values), nil
}

// Load reads .env files (if present) into the process environment and then
// parses the config file at path. An empty path yields an empty store.
// Call once at bootstrap: cfg, err := config.Load("config.yaml")
func Load(path string, envFiles ...string) (*Store, error) {
	LoadEnv(envFiles...)

	if path == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml", "":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("config: unsupported file type %q", filepath.Ext(path))
	}
}

// LoadEnv loads .env files into the process environment. Missing files are
// ignored: .env may not exist in production.
func LoadEnv(envFiles ...string) {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// Env returns an environment variable, falling back to fallback when unset.
func Env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
