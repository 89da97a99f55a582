package feed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func receive(t *testing.T, sub *Subscription) domain.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "events channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return domain.ChangeEvent{}
}

func TestPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	sub, err := NewSubscriber(client, logger.NewNop()).Subscribe(ctx, "alice")
	require.NoError(t, err)
	defer sub.Close()

	pub := NewPublisher(client)
	created := domain.Bookmark{ID: "01J", OwnerID: "alice", Title: "Example", URL: "example.com", CreatedAt: time.Now().UTC()}

	require.NoError(t, pub.Publish(ctx, "alice", domain.InsertEvent(created)))
	require.NoError(t, pub.Publish(ctx, "alice", domain.DeleteEvent("01J")))

	ev := receive(t, sub)
	assert.Equal(t, domain.EventInsert, ev.Kind)
	require.NotNil(t, ev.New)
	assert.Equal(t, "Example", ev.New.Title)
	assert.True(t, created.CreatedAt.Equal(ev.New.CreatedAt))

	ev = receive(t, sub)
	assert.Equal(t, domain.EventDelete, ev.Kind)
	assert.Equal(t, "01J", ev.Old.ID)
}

func TestSubscriptionIsScopedToOwner(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	sub, err := NewSubscriber(client, logger.NewNop()).Subscribe(ctx, "alice")
	require.NoError(t, err)
	defer sub.Close()

	pub := NewPublisher(client)
	require.NoError(t, pub.Publish(ctx, "bob", domain.DeleteEvent("bob-1")))
	require.NoError(t, pub.Publish(ctx, "alice", domain.DeleteEvent("alice-1")))

	ev := receive(t, sub)
	assert.Equal(t, "alice-1", ev.Old.ID)
}

func TestSubscriptionSkipsGarbage(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)

	sub, err := NewSubscriber(client, logger.NewNop()).Subscribe(ctx, "alice")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, Channel("alice"), "not json").Err())
	require.NoError(t, client.Publish(ctx, Channel("alice"), `{"kind":"insert"}`).Err())
	require.NoError(t, NewPublisher(client).Publish(ctx, "alice", domain.DeleteEvent("x")))

	ev := receive(t, sub)
	assert.Equal(t, domain.EventDelete, ev.Kind)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	client := newClient(t)

	sub, err := NewSubscriber(client, logger.NewNop()).Subscribe(context.Background(), "alice")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	_ = sub.Close()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("events channel not closed after Close")
	}
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	client := newClient(t)
	err := NewPublisher(client).Publish(context.Background(), "alice", domain.ChangeEvent{Kind: domain.EventInsert})
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"kind":"update","new":{"id":"1","title":"t","url":"u"},"old":{"id":"1"}}`))
	require.NoError(t, err)
	assert.Equal(t, domain.EventUpdate, ev.Kind)
	assert.Equal(t, "t", ev.New.Title)

	_, err = Decode([]byte(`{"kind":"delete"}`))
	assert.Error(t, err)
}
