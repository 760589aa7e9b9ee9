// Package handlers holds the per-code document fixes and the lookup table
// the dispatcher resolves them through.
package handlers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/document"
)

// ErrDuplicateHandler is returned when a code is registered twice.
var ErrDuplicateHandler = errors.New("handler already registered")

// Result is the outcome for one element a handler touched.
type Result struct {
	Success     bool   `json:"success"`
	Description string `json:"description"`
	Before      string `json:"before,omitempty"`
	After       string `json:"after,omitempty"`
}

// Options are free-form handler inputs, e.g. reviewer-supplied alt text.
type Options map[string]string

// Handler fixes every occurrence of one issue code in doc.
type Handler func(doc *document.Document, opts Options) ([]Result, error)

// Registry maps issue codes to handlers. Codes compare case-insensitively.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	spelling map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		spelling: make(map[string]string),
	}
}

// Register adds h for code.
func (r *Registry) Register(code string, h Handler) error {
	key := classify.NormalizeCode(code)
	if key == "" {
		return fmt.Errorf("register handler: empty code")
	}
	if h == nil {
		return fmt.Errorf("register handler %s: nil handler", code)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, code)
	}
	r.handlers[key] = h
	r.spelling[key] = strings.TrimSpace(code)
	return nil
}

// MustRegister is Register for startup wiring. It panics on error.
func (r *Registry) MustRegister(code string, h Handler) {
	if err := r.Register(code, h); err != nil {
		panic(err)
	}
}

// Lookup returns the handler registered for code.
func (r *Registry) Lookup(code string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[classify.NormalizeCode(code)]
	return h, ok
}

// Resolve looks code up directly and then through its canonical alias.
func (r *Registry) Resolve(code string, c *classify.Classifier) (Handler, bool) {
	if h, ok := r.Lookup(code); ok {
		return h, true
	}
	if c == nil {
		return nil, false
	}
	if canonical, ok := c.Canonical(code); ok {
		return r.Lookup(canonical)
	}
	return nil, false
}

// Codes returns registered codes in their registered spelling, sorted.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.spelling))
	for _, code := range r.spelling {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

var noOpMarkers = []string{"already present", "already set", "no change needed"}

// IsNoOp reports whether a result description marks an idempotent no-op:
// the defect was already fixed before this run.
func IsNoOp(description string) bool {
	d := strings.ToLower(description)
	for _, m := range noOpMarkers {
		if strings.Contains(d, m) {
			return true
		}
	}
	return false
}
