// Package recipients holds the set of addresses that receive integrity alerts.
package recipients

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrInvalidAddress is returned by Add for malformed addresses.
var ErrInvalidAddress = errors.New("invalid email address")

var addressPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Registry is an ordered set of alert recipients, safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	index map[string]struct{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{index: make(map[string]struct{})}
}

// NewFromList creates a Registry seeded from a comma-separated list. Invalid
// entries are logged and skipped.
func NewFromList(list string, logger *zap.Logger) *Registry {
	r := New()
	for _, entry := range strings.Split(list, ",") {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		if _, err := r.Add(entry); err != nil {
			logger.Warn("skipping invalid alert recipient", zap.String("entry", entry), zap.Error(err))
		}
	}
	return r
}

// Valid reports whether addr, after trimming whitespace, looks like an email address.
func Valid(addr string) bool {
	return addressPattern.MatchString(strings.TrimSpace(addr))
}

// Add inserts addr. It reports false without error when addr is already
// present, and ErrInvalidAddress when it is malformed.
func (r *Registry) Add(addr string) (bool, error) {
	addr = strings.TrimSpace(addr)
	if !addressPattern.MatchString(addr) {
		return false, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[addr]; ok {
		return false, nil
	}
	r.index[addr] = struct{}{}
	r.order = append(r.order, addr)
	return true, nil
}

// Remove deletes addr and reports whether it was present.
func (r *Registry) Remove(addr string) bool {
	addr = strings.TrimSpace(addr)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[addr]; !ok {
		return false
	}
	delete(r.index, addr)
	for i, a := range r.order {
		if a == addr {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// List returns a snapshot in insertion order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of recipients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
