// Package cache keeps parsed definition files so that building a session
// reads each consist and wagon once.
package cache

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/openrails-go/fleet/internal/parser"
)

// Loader reads the definition with the given name.
type Loader[T any] func(name string) (*T, error)

// Files caches definitions by name. Failed loads are not cached.
type Files[T any] struct {
	m     sync.Mutex
	load  Loader[T]
	items map[string]*T

	Loads SafeCounter
}

// NewFiles creates a cache in front of load.
func NewFiles[T any](load func(name string) (*T, error)) *Files[T] {
	return &Files[T]{
		load:  load,
		items: make(map[string]*T),
	}
}

// Get returns the cached definition, loading it on first use.
func (c *Files[T]) Get(name string) (*T, error) {
	c.m.Lock()
	defer c.m.Unlock()
	if v, ok := c.items[name]; ok {
		return v, nil
	}
	v, err := c.load(name)
	c.Loads.Inc()
	if err != nil {
		return nil, err
	}
	c.items[name] = v
	return v, nil
}

// Len returns the number of cached definitions.
func (c *Files[T]) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return len(c.items)
}

func (c *Files[T]) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.items = make(map[string]*T)
}

// Definitions caches the wagons and consists found under a content
// directory laid out as consists/<name>.yaml and wagons/<name>.yaml.
type Definitions struct {
	Consists *Files[parser.Consist]
	Wagons   *Files[parser.Wagon]
}

// NewDefinitions creates caches over dir.
func NewDefinitions(p *parser.Parser, dir string) *Definitions {
	return &Definitions{
		Consists: NewFiles(func(name string) (*parser.Consist, error) {
			c, err := parser.ReadFile(filepath.Join(dir, "consists", name+".yaml"), p.ParseConsist)
			if err != nil {
				return nil, fmt.Errorf("consist %q: %w", name, err)
			}
			return c, nil
		}),
		Wagons: NewFiles(func(name string) (*parser.Wagon, error) {
			w, err := parser.ReadFile(filepath.Join(dir, "wagons", name+".yaml"), p.ParseWagon)
			if err != nil {
				return nil, fmt.Errorf("wagon %q: %w", name, err)
			}
			return w, nil
		}),
	}
}

// SafeCounter is a thread-safe counter
type SafeCounter struct {
	mu sync.Mutex
	v  int
}

func (c *SafeCounter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.v
}

func (c *SafeCounter) Inc() {
	c.mu.Lock()
	c.v++
	c.mu.Unlock()
}
