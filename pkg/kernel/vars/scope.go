// Package vars implements the ordered, case-insensitive variable scope that
// carries execution state between plan steps.
package vars

import (
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// InputKey is the reserved key holding a scope's default value.
const InputKey = "input"

// entry keeps the first spelling of a key next to its value; the map itself
// is keyed by the folded form.
type entry struct {
	key   string
	value string
}

// Pair is a single key/value pair, in the shape used by the plan interchange format.
type Pair struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// Scope is an ordered string-to-string mapping with case-insensitive keys.
// The zero value is not usable; call New.
type Scope struct {
	m *orderedmap.OrderedMap[string, entry]
}

// New creates a scope whose input value is set to input.
func New(input string) *Scope {
	s := &Scope{m: orderedmap.New[string, entry]()}
	s.Set(InputKey, input)
	return s
}

// FromPairs builds a scope from pairs, in order. Later duplicates overwrite
// earlier ones. A scope built from pairs has no input key unless one is given.
func FromPairs(pairs []Pair) *Scope {
	s := &Scope{m: orderedmap.New[string, entry]()}
	for _, p := range pairs {
		s.Set(p.Key, p.Value)
	}
	return s
}

func fold(key string) string {
	return strings.ToLower(key)
}

// Get returns the value stored under key.
func (s *Scope) Get(key string) (string, bool) {
	e, ok := s.m.Get(fold(key))
	if !ok {
		return "", false
	}
	return e.value, true
}

// Value returns the value stored under key, or "" if absent.
func (s *Scope) Value(key string) string {
	v, _ := s.Get(key)
	return v
}

// Has reports whether key is present.
func (s *Scope) Has(key string) bool {
	_, ok := s.m.Get(fold(key))
	return ok
}

// Set upserts key. An existing key keeps its position and original spelling.
func (s *Scope) Set(key, value string) {
	k := fold(key)
	if e, ok := s.m.Get(k); ok {
		e.value = value
		s.m.Set(k, e)
		return
	}
	s.m.Set(k, entry{key: key, value: value})
}

// Delete removes key if present.
func (s *Scope) Delete(key string) {
	s.m.Delete(fold(key))
}

// Update overwrites the input value and returns the scope.
func (s *Scope) Update(value string) *Scope {
	s.Set(InputKey, value)
	return s
}

// Input returns the input value, or "" if unset.
func (s *Scope) Input() string {
	return s.Value(InputKey)
}

// String returns the input value.
func (s *Scope) String() string {
	return s.Input()
}

// Len returns the number of keys.
func (s *Scope) Len() int {
	return s.m.Len()
}

// All iterates keys and values in insertion order.
func (s *Scope) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for p := s.m.Oldest(); p != nil; p = p.Next() {
			if !yield(p.Value.key, p.Value.value) {
				return
			}
		}
	}
}

// Keys returns the keys in insertion order.
func (s *Scope) Keys() []string {
	keys := make([]string, 0, s.m.Len())
	for k := range s.All() {
		keys = append(keys, k)
	}
	return keys
}

// Pairs returns the contents as ordered pairs.
func (s *Scope) Pairs() []Pair {
	pairs := make([]Pair, 0, s.m.Len())
	for k, v := range s.All() {
		pairs = append(pairs, Pair{Key: k, Value: v})
	}
	return pairs
}

// Clone returns an independent copy.
func (s *Scope) Clone() *Scope {
	return FromPairs(s.Pairs())
}

// MergeMissing copies every key of other that is absent from s.
func (s *Scope) MergeMissing(other *Scope) {
	for k, v := range other.All() {
		if !s.Has(k) {
			s.Set(k, v)
		}
	}
}

// Map returns the contents as a template-friendly map. Each value is
// reachable under its original spelling and its lower-case form.
func (s *Scope) Map() map[string]string {
	out := make(map[string]string, s.m.Len()*2)
	for k, v := range s.All() {
		out[fold(k)] = v
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the scope as an ordered list of Key/Value objects.
func (s *Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Pairs())
}

// UnmarshalJSON accepts either the ordered pair list or a plain JSON object.
func (s *Scope) UnmarshalJSON(data []byte) error {
	s.m = orderedmap.New[string, entry]()

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil
	}

	if strings.HasPrefix(trimmed, "{") {
		obj := orderedmap.New[string, string]()
		if err := json.Unmarshal(data, obj); err != nil {
			return fmt.Errorf("decode scope object: %w", err)
		}
		for pair := obj.Oldest(); pair != nil; pair = pair.Next() {
			s.Set(pair.Key, pair.Value)
		}
		return nil
	}

	var pairs []Pair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("decode scope pairs: %w", err)
	}
	for _, p := range pairs {
		s.Set(p.Key, p.Value)
	}
	return nil
}
