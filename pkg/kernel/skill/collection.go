package skill

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrFunctionNotFound is returned when a catalog lookup misses.
	ErrFunctionNotFound = errors.New("function not found")
	// ErrDuplicateFunction is returned when a function is registered twice.
	ErrDuplicateFunction = errors.New("function already registered")
)

// ListFilter selects which kinds of functions ListFunctions returns.
type ListFilter struct {
	IncludeSemantic bool
	IncludeNative   bool
}

// AllFunctions selects every function.
var AllFunctions = ListFilter{IncludeSemantic: true, IncludeNative: true}

// Catalog is the read side of a function registry.
type Catalog interface {
	HasFunction(skillName, name string) bool
	Function(skillName, name string) (Function, error)
	ListFunctions(filter ListFilter) []View
}

// Collection is an in-memory Catalog. Lookups are case-insensitive and
// ListFunctions returns functions in registration order.
type Collection struct {
	mu    sync.RWMutex
	funcs *orderedmap.OrderedMap[string, Function]
}

// NewCollection creates an empty collection.
func NewCollection() *Collection {
	return &Collection{funcs: orderedmap.New[string, Function]()}
}

func key(skillName, name string) string {
	if skillName == "" {
		skillName = GlobalSkill
	}
	return strings.ToLower(skillName) + "." + strings.ToLower(name)
}

// Register adds fn under its descriptor's skill and name.
func (c *Collection) Register(fn Function) error {
	v := fn.Describe()
	if v.Name == "" {
		return fmt.Errorf("register function: empty name in skill %q", v.SkillName)
	}
	k := key(v.SkillName, v.Name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.funcs.Get(k); ok {
		return fmt.Errorf("register %s: %w", v.QualifiedName(), ErrDuplicateFunction)
	}
	c.funcs.Set(k, fn)
	return nil
}

// MustRegister is Register for static setup; it panics on error.
func (c *Collection) MustRegister(fns ...Function) *Collection {
	for _, fn := range fns {
		if err := c.Register(fn); err != nil {
			panic(err)
		}
	}
	return c
}

// HasFunction reports whether skillName.name is registered.
func (c *Collection) HasFunction(skillName, name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.funcs.Get(key(skillName, name))
	return ok
}

// Function returns the function registered as skillName.name.
func (c *Collection) Function(skillName, name string) (Function, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.funcs.Get(key(skillName, name))
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", skillName, name, ErrFunctionNotFound)
	}
	return fn, nil
}

// ListFunctions returns the descriptors selected by filter.
func (c *Collection) ListFunctions(filter ListFilter) []View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var views []View
	for p := c.funcs.Oldest(); p != nil; p = p.Next() {
		v := p.Value.Describe()
		if v.IsSemantic && !filter.IncludeSemantic {
			continue
		}
		if !v.IsSemantic && !filter.IncludeNative {
			continue
		}
		views = append(views, v)
	}
	return views
}

// Len returns the number of registered functions.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.funcs.Len()
}
