package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microlearn/gamification-engine/internal/domain/ledger"
	"github.com/microlearn/gamification-engine/internal/domain/shared"
	"github.com/microlearn/gamification-engine/pkg/retry"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY BUS
// ══════════════════════════════════════════════════════════════════════════════

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return errors.New("ignored")
	}))

	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, at)))
	require.NoError(t, bus.Publish(shared.NewXPGainedEvent("u1", 50, 150, "lesson", at)))

	assert.Equal(t, []shared.EventType{shared.EventLevelUp}, typed)
	assert.Equal(t, []shared.EventType{shared.EventLevelUp, shared.EventXPGained}, all)
}

func TestInMemoryEventBus_RecoversPanicsAndCloses(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var calls atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		calls.Add(1)
		panic("boom")
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, at)))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(5), calls.Load())

	assert.ErrorIs(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, at)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS BUS
// ══════════════════════════════════════════════════════════════════════════════

func TestRedisEventBus_FansOutToOtherInstances(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	a, err := NewRedisEventBus(ctx, RedisEventBusConfig{Client: client, InstanceID: "a"})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisEventBus(ctx, RedisEventBusConfig{Client: client, InstanceID: "b"})
	require.NoError(t, err)
	defer b.Close()

	var (
		mu       sync.Mutex
		local    int
		received []shared.Event
	)
	require.NoError(t, a.SubscribeAll(func(shared.Event) error {
		mu.Lock()
		local++
		mu.Unlock()
		return nil
	}))
	require.NoError(t, b.Subscribe(shared.EventStreakBroken, func(e shared.Event) error {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		return nil
	}))

	require.NoError(t, a.Publish(shared.NewStreakBrokenEvent("u7", 6, 3, at)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && local == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "u7", received[0].AggregateID())
	assert.EqualValues(t, 6, received[0].Payload()["previous_streak"])
}

// ══════════════════════════════════════════════════════════════════════════════
// LEARNING EVENT STREAM
// ══════════════════════════════════════════════════════════════════════════════

func streamConfig() StreamConfig {
	return StreamConfig{Consumer: "test", Block: -1}
}

func TestStream_PublishAndConsume(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	var got []ledger.LearningEvent
	consumer := NewStreamConsumer(client, streamConfig(), func(_ context.Context, evt ledger.LearningEvent) error {
		got = append(got, evt)
		return nil
	}, nil, nil)
	require.NoError(t, consumer.EnsureGroup(ctx))
	require.NoError(t, consumer.EnsureGroup(ctx))

	pub := NewStreamPublisher(client, "")
	score := 80
	_, err := pub.Publish(ctx, ledger.LearningEvent{ID: "e1", UserID: "u1", Kind: ledger.KindQuizScored, SubjectID: "q1", Score: &score, Timestamp: at})
	require.NoError(t, err)
	_, err = pub.Publish(ctx, ledger.LearningEvent{ID: "e2", UserID: "u1", Kind: ledger.KindCheckin, Timestamp: at})
	require.NoError(t, err)

	n, err := consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	require.NotNil(t, got[0].Score)
	assert.Equal(t, 80, *got[0].Score)
	assert.True(t, got[1].Timestamp.Equal(at))

	pending, err := client.XPending(ctx, DefaultLearningStream, DefaultConsumerGroup).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)

	n, err = consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStream_FailingEventIsRetriedThenDeadLettered(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	var calls atomic.Int32
	retrier := retry.New(
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithRetryIf(func(error) bool { return true }),
	)
	consumer := NewStreamConsumer(client, streamConfig(), func(context.Context, ledger.LearningEvent) error {
		calls.Add(1)
		return errors.New("database unavailable")
	}, retrier, nil)
	require.NoError(t, consumer.EnsureGroup(ctx))

	_, err := NewStreamPublisher(client, "").Publish(ctx, ledger.LearningEvent{ID: "e1", UserID: "u1", Kind: ledger.KindCheckin})
	require.NoError(t, err)

	n, err := consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(3), calls.Load())

	dead, err := client.XRange(ctx, DefaultDeadLetter, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "database unavailable", dead[0].Values[errorField])

	pending, err := client.XPending(ctx, DefaultLearningStream, DefaultConsumerGroup).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestStream_UndecodableEntryIsDeadLettered(t *testing.T) {
	client := newRedis(t)
	ctx := context.Background()

	consumer := NewStreamConsumer(client, streamConfig(), func(context.Context, ledger.LearningEvent) error {
		t.Fatal("handler must not run")
		return nil
	}, nil, nil)
	require.NoError(t, consumer.EnsureGroup(ctx))

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: DefaultLearningStream,
		Values: map[string]interface{}{eventField: "{not json"},
	}).Err())

	_, err := consumer.Poll(ctx)
	require.NoError(t, err)

	n, err := client.XLen(ctx, DefaultDeadLetter).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStream_RunDrainsAndStops(t *testing.T) {
	client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())

	var handled atomic.Int32
	consumer := NewStreamConsumer(client, StreamConfig{Consumer: "runner", Block: 20 * time.Millisecond},
		func(context.Context, ledger.LearningEvent) error {
			handled.Add(1)
			return nil
		}, nil, nil)

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	pub := NewStreamPublisher(client, "")
	for i := 0; i < 3; i++ {
		_, err := pub.Publish(context.Background(), ledger.LearningEvent{ID: ledger.NewID(), UserID: "u1", Kind: ledger.KindCheckin})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return handled.Load() == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestStream_ReplayedEntryKeepsDerivedID(t *testing.T) {
	client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu         sync.Mutex
		recorded   = map[string]bool{}
		applied    int
		duplicates int
	)
	apply := func(_ context.Context, evt ledger.LearningEvent) error {
		mu.Lock()
		defer mu.Unlock()
		if recorded[evt.ID] {
			duplicates++
			return nil
		}
		recorded[evt.ID] = true
		applied++
		return nil
	}

	consumer := NewStreamConsumer(client, StreamConfig{Consumer: "worker-1", Block: 20 * time.Millisecond}, apply, nil, nil)
	require.NoError(t, consumer.EnsureGroup(ctx))

	score := 90
	_, err := NewStreamPublisher(client, "").Publish(ctx, ledger.LearningEvent{
		UserID: "u1", Kind: ledger.KindQuizScored, SubjectID: "q1", Score: &score, TimeSpentSeconds: 60, Timestamp: at,
	})
	require.NoError(t, err)

	// First delivery is handled but the worker dies before XACK.
	streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    DefaultConsumerGroup,
		Consumer: "worker-1",
		Streams:  []string{DefaultLearningStream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams[0].Messages, 1)
	entry := streams[0].Messages[0]

	first, err := decodeEntry(DefaultLearningStream, entry)
	require.NoError(t, err)
	assert.Equal(t, ledger.DeriveID(DefaultLearningStream+"/"+entry.ID), first.ID)
	require.NoError(t, apply(ctx, first))

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	assert.Eventually(t, func() bool {
		pending, err := client.XPending(context.Background(), DefaultLearningStream, DefaultConsumerGroup).Result()
		return err == nil && pending.Count == 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, applied, "the replayed entry must not be applied twice")
	assert.Equal(t, 1, duplicates)
}

func TestDecodeEntry_KeepsExplicitID(t *testing.T) {
	msg := redis.XMessage{ID: "1-0", Values: map[string]interface{}{eventField: `{"id":"evt-9","userId":"u1","kind":"checkin"}`}}
	evt, err := decodeEntry(DefaultLearningStream, msg)
	require.NoError(t, err)
	assert.Equal(t, "evt-9", evt.ID)

	msg.Values[eventField] = `{"userId":"u1","kind":"checkin"}`
	a, err := decodeEntry(DefaultLearningStream, msg)
	require.NoError(t, err)
	b, err := decodeEntry("other:stream", msg)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}
