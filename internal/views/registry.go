// Package views keeps one reconciliation engine per signed-in session.
package views

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
	"github.com/MrSnakeDoc/smartmarks/internal/reconcile"
)

// Opener opens an engine for a session token.
type Opener func(ctx context.Context, token string) (*reconcile.Engine, error)

type entry struct {
	engine   *reconcile.Engine
	lastUsed time.Time
}

// Registry maps session tokens to their live engine.
// An engine is opened on first use and closed on Release, Sweep or CloseAll.
type Registry struct {
	mu     sync.RWMutex
	views  map[string]*entry // token -> engine
	open   Opener
	logger logger.Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(open Opener, log logger.Logger) *Registry {
	return &Registry{
		views:  make(map[string]*entry),
		open:   open,
		logger: log,
		now:    time.Now,
	}
}

// Acquire returns the engine for token, opening it if needed.
// A cached engine is handed out only while its session is still valid; a
// session that expired or was signed out elsewhere drops the view and fails
// with domain.ErrUnauthenticated, as does opening one for a dead session.
func (r *Registry) Acquire(ctx context.Context, token string) (*reconcile.Engine, error) {
	if e, ok := r.lookup(token); ok {
		if err := e.Verify(ctx, token); err != nil {
			if errors.Is(err, domain.ErrUnauthenticated) {
				r.drop(token, e)
			}
			return nil, err
		}
		return e, nil
	}

	// Open outside the lock: it fetches from the store.
	e, err := r.open(ctx, token)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if cur, ok := r.views[token]; ok && !closed(cur.engine) {
		// Lost a race with a concurrent Acquire for the same session.
		cur.lastUsed = r.now()
		r.mu.Unlock()
		_ = e.Close()
		return cur.engine, nil
	}
	r.views[token] = &entry{engine: e, lastUsed: r.now()}
	count := len(r.views)
	r.mu.Unlock()

	r.logger.Debug("view opened",
		logger.String("owner", e.Owner().ID),
		logger.Int("views", count))
	return e, nil
}

func (r *Registry) lookup(token string) (*reconcile.Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.views[token]
	if !ok {
		return nil, false
	}
	if closed(cur.engine) {
		delete(r.views, token)
		return nil, false
	}
	cur.lastUsed = r.now()
	return cur.engine, true
}

// Touch marks the session's view as in use.
func (r *Registry) Touch(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.views[token]; ok {
		cur.lastUsed = r.now()
	}
}

// Release closes and forgets the view for token, if any.
func (r *Registry) Release(token string) {
	r.mu.Lock()
	cur, ok := r.views[token]
	delete(r.views, token)
	r.mu.Unlock()

	if ok {
		r.closeEngine(cur.engine)
	}
}

// drop forgets token's view if it is still e, then closes e.
func (r *Registry) drop(token string, e *reconcile.Engine) {
	r.mu.Lock()
	if cur, ok := r.views[token]; ok && cur.engine == e {
		delete(r.views, token)
	}
	r.mu.Unlock()

	r.logger.Debug("view dropped, session ended", logger.String("owner", e.Owner().ID))
	r.closeEngine(e)
}

// Sweep closes views unused for longer than idle and returns how many went.
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var stale []*reconcile.Engine
	for token, cur := range r.views {
		if cur.lastUsed.Before(cutoff) || closed(cur.engine) {
			stale = append(stale, cur.engine)
			delete(r.views, token)
		}
	}
	r.mu.Unlock()

	for _, e := range stale {
		r.closeEngine(e)
	}
	return len(stale)
}

// CloseAll closes every view. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.views
	r.views = make(map[string]*entry)
	r.mu.Unlock()

	for _, cur := range all {
		r.closeEngine(cur.engine)
	}
}

// Each calls fn for every live view. fn runs without the registry lock held.
func (r *Registry) Each(fn func(e *reconcile.Engine)) {
	r.mu.RLock()
	engines := make([]*reconcile.Engine, 0, len(r.views))
	for _, cur := range r.views {
		engines = append(engines, cur.engine)
	}
	r.mu.RUnlock()

	for _, e := range engines {
		fn(e)
	}
}

// Count returns the number of open views
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.views)
}

func (r *Registry) closeEngine(e *reconcile.Engine) {
	if err := e.Close(); err != nil {
		r.logger.Warn("failed to close view",
			logger.String("owner", e.Owner().ID),
			logger.Error(err))
	}
}

func closed(e *reconcile.Engine) bool {
	select {
	case <-e.Done():
		return true
	default:
		return false
	}
}
