// Package reconcile keeps one session's view of the signed-in user's bookmarks
// consistent with the store.
//
// Three sources mutate the list: the initial full fetch, the session's own
// create/delete commands, and the change-feed carrying every row-level change
// for the owner, including ones made by other sessions. They race. The engine
// merges them with idempotent transitions so the list converges to the store's
// state once all in-flight writes are acknowledged and their events delivered.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
)

// Store is the bookmark store as the engine needs it.
type Store interface {
	Fetch(ctx context.Context, ownerID string) ([]domain.Bookmark, error)
	Insert(ctx context.Context, ownerID, title, url string) (domain.Bookmark, error)
	Update(ctx context.Context, ownerID, id, title, url string) (domain.Bookmark, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// Subscription is a live change-feed for one owner.
type Subscription interface {
	Events() <-chan domain.ChangeEvent
	Close() error
}

// SubscribeFunc opens the change-feed for an owner.
// It must not return before the subscription is live.
type SubscribeFunc func(ctx context.Context, ownerID string) (Subscription, error)

// Subscriber adapts a subscribe function returning a concrete subscription type.
func Subscriber[S Subscription](subscribe func(ctx context.Context, ownerID string) (S, error)) SubscribeFunc {
	return func(ctx context.Context, ownerID string) (Subscription, error) {
		sub, err := subscribe(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
}

// Sessions resolves a session token to the signed-in identity.
type Sessions interface {
	CurrentUser(ctx context.Context, token string) (domain.Identity, bool, error)
}

// Deps holds what an engine talks to.
type Deps struct {
	Store     Store
	Subscribe SubscribeFunc
	Sessions  Sessions
	Logger    logger.Logger
}

// Engine is the reconciliation engine for one session.
//
// Every list transition happens under mu, and mu is never held across a call
// to the store, so commands and events from the feed interleave freely while
// each transition stays atomic.
type Engine struct {
	owner    domain.Identity
	store    Store
	sessions Sessions
	sub      Subscription
	logger   logger.Logger

	mu       sync.Mutex
	list     List
	loading  bool
	fetching int                  // full fetches in flight
	pending  []domain.ChangeEvent // changes seen while fetching, replayed after the replace
	changed  chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// Open resolves the session, subscribes to the owner's change-feed and runs the
// initial fetch.
//
// The subscription goes live before the fetch starts, and events delivered while
// the fetch is in flight are replayed on top of its result, so no change
// committed after Open begins is lost.
//
// Without a session it fails with domain.ErrUnauthenticated and nothing is fetched.
func Open(ctx context.Context, deps Deps, token string) (*Engine, error) {
	identity, ok, err := deps.Sessions.CurrentUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if !ok {
		return nil, domain.ErrUnauthenticated
	}

	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	log = log.With(logger.String("owner", identity.ID))

	sub, err := deps.Subscribe(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to open change-feed: %w", err)
	}

	e := &Engine{
		owner:    identity,
		store:    deps.Store,
		sessions: deps.Sessions,
		sub:      sub,
		logger:   log,
		loading:  true,
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	// Count the initial fetch before the pump starts so early events are buffered.
	e.fetching = 1

	e.wg.Add(1)
	go e.pump()

	if err := e.fetchStarted(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}

	log.Debug("bookmark view opened", logger.Int("bookmarks", e.Len()))
	return e, nil
}

// Owner is the signed-in identity the engine was opened for.
func (e *Engine) Owner() domain.Identity { return e.owner }

// Verify checks that token still resolves to the owner the engine was opened for.
// Once the session has expired or been signed out it fails with domain.ErrUnauthenticated.
func (e *Engine) Verify(ctx context.Context, token string) error {
	identity, ok, err := e.sessions.CurrentUser(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to resolve session: %w", err)
	}
	if !ok || identity.ID != e.owner.ID {
		return domain.ErrUnauthenticated
	}
	return nil
}

// Snapshot returns a copy of the current list, newest first.
func (e *Engine) Snapshot() []domain.Bookmark {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.list.Clone()
}

// Len is the number of bookmarks in the list.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.list)
}

// Loading is true until the first full fetch has landed.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// Changed returns a channel closed on the next list change.
// Call it again after it fires to wait for the following one.
func (e *Engine) Changed() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

// Done is closed once the engine is closed.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Refresh replaces the list with a full fetch from the store.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	e.fetching++
	e.mu.Unlock()
	return e.fetchStarted(ctx)
}

// fetchStarted runs a fetch already counted in e.fetching.
func (e *Engine) fetchStarted(ctx context.Context) error {
	items, err := e.store.Fetch(ctx, e.owner.ID)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.fetching--
	if err != nil {
		e.replayLocked()
		return domain.RequestFailed("fetch", err)
	}

	e.list = NewList(items)
	e.loading = false
	e.replayLocked()
	e.notifyLocked()
	return nil
}

// replayLocked applies buffered events once no fetch is in flight.
func (e *Engine) replayLocked() {
	if e.fetching > 0 {
		return
	}
	for _, ev := range e.pending {
		e.list, _ = e.list.Apply(ev)
	}
	if len(e.pending) > 0 {
		e.notifyLocked()
	}
	e.pending = nil
}

// HandleChangeEvent merges one change-feed event into the list.
// Invalid events are dropped.
func (e *Engine) HandleChangeEvent(ev domain.ChangeEvent) {
	if err := ev.Validate(); err != nil {
		e.logger.Warn("dropping invalid change event", logger.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.applyLocked(ev)
}

// applyLocked applies ev. While a fetch is in flight ev is also queued, so the
// fetch result cannot erase it.
func (e *Engine) applyLocked(ev domain.ChangeEvent) {
	if e.fetching > 0 {
		e.pending = append(e.pending, ev)
	}
	var changed bool
	if e.list, changed = e.list.Apply(ev); changed {
		e.notifyLocked()
	}
}

// Add creates a bookmark. It is a no-op returning ok=false when title or url is
// empty. On success the created record is prepended unless the change-feed
// already delivered it.
func (e *Engine) Add(ctx context.Context, title, url string) (domain.Bookmark, bool, error) {
	if title == "" || url == "" {
		return domain.Bookmark{}, false, nil
	}

	created, err := e.store.Insert(ctx, e.owner.ID, title, url)
	if err != nil {
		e.logger.Warn("create failed", logger.Error(err))
		return domain.Bookmark{}, false, domain.RequestFailed("create", err)
	}

	e.mu.Lock()
	e.applyLocked(domain.InsertEvent(created))
	e.mu.Unlock()

	return created, true, nil
}

// Update changes a bookmark's title and url. The list entry is replaced once
// the store acknowledges the write.
func (e *Engine) Update(ctx context.Context, id, title, url string) (domain.Bookmark, error) {
	if title == "" || url == "" {
		return domain.Bookmark{}, fmt.Errorf("title and url are required")
	}

	updated, err := e.store.Update(ctx, e.owner.ID, id, title, url)
	if err != nil {
		e.logger.Warn("update failed", logger.String("id", id), logger.Error(err))
		return domain.Bookmark{}, domain.RequestFailed("update", err)
	}

	e.mu.Lock()
	e.applyLocked(domain.UpdateEvent(updated))
	e.mu.Unlock()

	return updated, nil
}

// Delete removes a bookmark from the list first, then from the store.
//
// If the store rejects the delete, the list is rebuilt from a fresh fetch
// rather than by reinserting the removed entry, and a domain.RequestError is
// returned. The delete event from the feed may arrive before or after the
// acknowledgement; both orders are harmless.
func (e *Engine) Delete(ctx context.Context, id string) error {
	e.mu.Lock()
	var changed bool
	if e.list, changed = e.list.Remove(id); changed {
		e.notifyLocked()
	}
	e.mu.Unlock()

	if err := e.store.Delete(ctx, e.owner.ID, id); err != nil {
		reqErr := domain.RequestFailed("delete", err)
		e.logger.Warn("delete failed, refetching", logger.String("id", id), logger.Error(err))
		if ferr := e.Refresh(ctx); ferr != nil {
			return errors.Join(reqErr, ferr)
		}
		return reqErr
	}

	// A fetch that started before the delete committed may still bring the row back.
	e.mu.Lock()
	e.applyLocked(domain.DeleteEvent(id))
	e.mu.Unlock()
	return nil
}

// Close tears down the change-feed subscription. Safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.closeErr = e.sub.Close()
		e.wg.Wait()
		e.logger.Debug("bookmark view closed")
	})
	return e.closeErr
}

func (e *Engine) pump() {
	defer e.wg.Done()

	events := e.sub.Events()
	for {
		select {
		case <-e.done:
			return
		case ev, ok := <-events:
			if !ok {
				select {
				case <-e.done:
				default:
					e.logger.Warn("change-feed ended, list kept until next fetch",
						logger.Error(domain.ErrSubscriptionDropped))
				}
				return
			}
			e.HandleChangeEvent(ev)
		}
	}
}

func (e *Engine) notifyLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}
