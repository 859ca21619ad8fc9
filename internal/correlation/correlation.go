// Package correlation carries a per-request correlation id and user id
// through a call tree without threading them through function signatures.
//
// A scope lives in a context.Context. Everything that receives that context,
// including goroutines started beneath it, reads and writes the same scope:
//
//	err := correlation.Do(ctx, func(ctx context.Context) error {
//	    correlation.SetUserID(ctx, user.ID)
//	    go audit(ctx)            // same scope
//	    return handle(ctx)       // same scope
//	}, r.Header.Get("X-Correlation-ID"))
//
// Scopes never inherit from one another: entering a scope inside another
// starts with an empty store, and concurrent scopes are fully isolated.
// Outside any scope, writes are silent no-ops and CorrelationID returns a
// freshly generated id.
package correlation

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// Well-known keys.
const (
	KeyCorrelationID = "correlationId"
	KeyUserID        = "userId"
)

type scopeCtxKey struct{}

// scope is the mutable store for one logical task. It is shared by every
// goroutine holding a context derived from the one that entered it.
type scope struct {
	mu     sync.RWMutex
	values map[string]string
}

func newScope(correlationID string) *scope {
	if correlationID == "" {
		correlationID = GenerateID()
	}
	return &scope{values: map[string]string{KeyCorrelationID: correlationID}}
}

func fromContext(ctx context.Context) *scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeCtxKey{}).(*scope)
	return s
}

func (s *scope) get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *scope) set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// GenerateID returns a new random correlation id.
func GenerateID() string {
	return uuid.NewString()
}

// NewScope returns a context carrying a fresh scope. An empty correlationID
// is replaced with a generated one. The returned context does not see any
// scope entered by ctx.
func NewScope(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeCtxKey{}, newScope(correlationID))
}

// Run executes fn inside a new scope and returns its results unchanged.
// The first non-empty correlationID is used; otherwise one is generated.
// Panics raised by fn propagate.
func Run[T any](ctx context.Context, fn func(context.Context) (T, error), correlationID ...string) (T, error) {
	return fn(NewScope(ctx, firstNonEmpty(correlationID)))
}

// Do is Run for functions that only return an error.
func Do(ctx context.Context, fn func(context.Context) error, correlationID ...string) error {
	return fn(NewScope(ctx, firstNonEmpty(correlationID)))
}

// InScope reports whether ctx carries a scope.
func InScope(ctx context.Context) bool {
	return fromContext(ctx) != nil
}

// CorrelationID returns the active scope's id. Outside a scope, or after
// Clear, a new id is generated on every call.
func CorrelationID(ctx context.Context) string {
	if s := fromContext(ctx); s != nil {
		if id, ok := s.get(KeyCorrelationID); ok && id != "" {
			return id
		}
	}
	return GenerateID()
}

// SetUserID records the authenticated principal. Last write wins.
func SetUserID(ctx context.Context, id string) {
	Set(ctx, KeyUserID, id)
}

// UserID returns the active scope's user id, if one was set.
func UserID(ctx context.Context) (string, bool) {
	return Get(ctx, KeyUserID)
}

// Set stores an arbitrary entry in the active scope. No-op outside a scope.
// The correlation id is fixed when the scope opens; Set ignores it.
func Set(ctx context.Context, key, value string) {
	if key == KeyCorrelationID {
		return
	}
	if s := fromContext(ctx); s != nil {
		s.set(key, value)
	}
}

// Get returns an entry of the active scope.
func Get(ctx context.Context, key string) (string, bool) {
	if s := fromContext(ctx); s != nil {
		return s.get(key)
	}
	return "", false
}

// Clear removes every entry, including the correlation id, from the active
// scope. Other scopes are untouched. No-op outside a scope.
func Clear(ctx context.Context) {
	if s := fromContext(ctx); s != nil {
		s.mu.Lock()
		clear(s.values)
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of the active scope's entries; empty outside a scope.
func Snapshot(ctx context.Context) map[string]string {
	s := fromContext(ctx)
	if s == nil {
		return map[string]string{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

func firstNonEmpty(ids []string) string {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}
