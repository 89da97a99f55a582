package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
)

// EventPublisher is where committed writes are announced
type EventPublisher interface {
	Publish(ctx context.Context, ownerID string, ev domain.ChangeEvent) error
}

// Store is the durable bookmark table.
// Every operation is scoped to an owner; rows owned by someone else behave as absent.
// Committed writes are published on the owner's change-feed.
type Store struct {
	client    *redis.Client
	publisher EventPublisher
	logger    logger.Logger
	now       func() time.Time

	beforeCommit func(id string) // runs between the watched read and the write
}

// maxTxAttempts bounds optimistic retries of a watched read-modify-write.
const maxTxAttempts = 3

// NewStore creates a new Redis store
func NewStore(client *redis.Client, publisher EventPublisher, log logger.Logger) *Store {
	return &Store{
		client:    client,
		publisher: publisher,
		logger:    log,
		now:       time.Now,
	}
}

// Fetch returns all of owner's bookmarks, newest first
func (s *Store) Fetch(ctx context.Context, ownerID string) ([]domain.Bookmark, error) {
	ids, err := s.client.ZRevRange(ctx, OwnerBookmarksKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmark IDs: %w", err)
	}

	if len(ids) == 0 {
		return []domain.Bookmark{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = BookmarkKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmarks: %w", err)
	}

	bookmarks := make([]domain.Bookmark, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a record, skip it
			s.logger.Debug("dangling bookmark index entry", logger.String("bookmark_id", ids[i]))
			continue
		}

		var b domain.Bookmark
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bookmark %s: %w", ids[i], err)
		}
		if b.OwnerID != ownerID {
			continue
		}
		bookmarks = append(bookmarks, b)
	}

	sort.SliceStable(bookmarks, func(i, j int) bool {
		return domain.Newer(bookmarks[i], bookmarks[j])
	})

	return bookmarks, nil
}

// Get returns one of owner's bookmarks, domain.ErrNotFound if absent
func (s *Store) Get(ctx context.Context, ownerID, id string) (domain.Bookmark, error) {
	return readOwned(ctx, s.client, ownerID, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readOwned(ctx context.Context, c getter, ownerID, id string) (domain.Bookmark, error) {
	data, err := c.Get(ctx, BookmarkKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Bookmark{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return domain.Bookmark{}, fmt.Errorf("failed to get bookmark: %w", err)
	}

	var b domain.Bookmark
	if err := json.Unmarshal(data, &b); err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to unmarshal bookmark: %w", err)
	}
	if b.OwnerID != ownerID {
		return domain.Bookmark{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return b, nil
}

// Insert persists a new bookmark and returns it with its assigned ID and CreatedAt
func (s *Store) Insert(ctx context.Context, ownerID, title, url string) (domain.Bookmark, error) {
	if ownerID == "" {
		return domain.Bookmark{}, domain.ErrUnauthenticated
	}

	// Millisecond precision so the sorted set score and the record agree
	now := s.now().UTC().Truncate(time.Millisecond)

	b := domain.Bookmark{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		OwnerID:   ownerID,
		Title:     title,
		URL:       url,
		CreatedAt: now,
	}

	if err := s.write(ctx, b, true); err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to insert bookmark: %w", err)
	}

	s.announce(ctx, ownerID, domain.InsertEvent(b))
	return b, nil
}

// Update replaces title and url of one of owner's bookmarks
func (s *Store) Update(ctx context.Context, ownerID, id, title, url string) (domain.Bookmark, error) {
	var updated domain.Bookmark
	err := s.watchOwned(ctx, ownerID, id, func(tx *redis.Tx, b domain.Bookmark) error {
		b.Title = title
		b.URL = url

		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to marshal bookmark: %w", err)
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, BookmarkKey(id), data, 0)
			return nil
		}); err != nil {
			return err
		}
		updated = b
		return nil
	})
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to update bookmark: %w", err)
	}

	s.announce(ctx, ownerID, domain.UpdateEvent(updated))
	return updated, nil
}

// Delete removes one of owner's bookmarks
func (s *Store) Delete(ctx context.Context, ownerID, id string) error {
	err := s.watchOwned(ctx, ownerID, id, func(tx *redis.Tx, _ domain.Bookmark) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, BookmarkKey(id))
			pipe.ZRem(ctx, OwnerBookmarksKey(ownerID), id)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}

	s.announce(ctx, ownerID, domain.DeleteEvent(id))
	return nil
}

// watchOwned reads owner's row under WATCH and hands it to fn, which queues its
// writes with tx.TxPipelined. If the row changes before they commit, the read
// is redone, so a row deleted in between ends as domain.ErrNotFound instead of
// being written back.
func (s *Store) watchOwned(ctx context.Context, ownerID, id string, fn func(tx *redis.Tx, b domain.Bookmark) error) error {
	txf := func(tx *redis.Tx) error {
		b, err := readOwned(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}
		if s.beforeCommit != nil {
			s.beforeCommit(id)
		}
		return fn(tx, b)
	}

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, BookmarkKey(id))
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("bookmark %s kept changing: %w", id, redis.TxFailedErr)
}

func (s *Store) write(ctx context.Context, b domain.Bookmark, index bool) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal bookmark: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, BookmarkKey(b.ID), data, 0)
		if index {
			pipe.ZAdd(ctx, OwnerBookmarksKey(b.OwnerID), redis.Z{
				Score:  float64(b.CreatedAt.UnixMilli()),
				Member: b.ID,
			})
		}
		return nil
	})
	return err
}

// announce publishes a committed write. The row is already durable,
// so a failed publish only delays other devices until their next full fetch.
func (s *Store) announce(ctx context.Context, ownerID string, ev domain.ChangeEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ownerID, ev); err != nil {
		s.logger.Warn("failed to publish change event",
			logger.String("owner_id", ownerID),
			logger.String("kind", string(ev.Kind)),
			logger.Error(err))
	}
}
