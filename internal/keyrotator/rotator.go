// Package keyrotator implements per-provider round-robin API key selection
// with exclusion-set-based retry, replacing closures over mutable lists with
// an explicit mutex-guarded cursor value.
package keyrotator

import (
	"fmt"
	"sync"
)

// ErrExhausted is returned when every configured key has already been tried.
type ErrExhausted struct {
	Provider string
}

func (e *ErrExhausted) Error() string {
	return fmt.Sprintf("provider %q: all API keys exhausted", e.Provider)
}

// cursor is one provider's rotation state.
type cursor struct {
	mu    sync.Mutex
	index int
}

// Rotator holds one cursor per provider. The key slices themselves are
// owned by the provider registry; the rotator only tracks which index is
// next.
type Rotator struct {
	mu      sync.Mutex
	cursors map[string]*cursor
}

func New() *Rotator {
	return &Rotator{cursors: make(map[string]*cursor)}
}

func (r *Rotator) cursorFor(provider string) *cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[provider]
	if !ok {
		c = &cursor{}
		r.cursors[provider] = c
	}
	return c
}

// Next returns the next key for provider not present in exclude. It raises
// ErrExhausted when the exclusion set already covers every key, rather than
// looping silently.
func (r *Rotator) Next(provider string, keys []string, exclude map[string]bool) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("provider %q: no API keys configured", provider)
	}
	if len(exclude) >= len(keys) {
		return "", &ErrExhausted{Provider: provider}
	}

	c := r.cursorFor(provider)
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < len(keys); i++ {
		k := keys[c.index%len(keys)]
		c.index++
		if !exclude[k] {
			return k, nil
		}
	}
	return "", &ErrExhausted{Provider: provider}
}

// Reset zeroes a provider's cursor; intended for test isolation only.
func (r *Rotator) Reset(provider string) {
	c := r.cursorFor(provider)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}
