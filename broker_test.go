package beacon

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fogfish/opts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casualjim/beacon/events"
)

func newTestBroker(t *testing.T, options ...opts.Option[Config]) *Broker {
	t.Helper()
	base := []opts.Option[Config]{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	b, err := New(append(base, options...)...)
	require.NoError(t, err)
	return b
}

func TestEmitReturnsConstructedEvent(t *testing.T) {
	b := newTestBroker(t)

	ev, err := b.Emit(context.Background(), events.KindCreate, "store", "note", "create_note",
		map[string]any{"id": "n1"},
		WithPriority(events.PriorityHigh),
		WithCorrelationID("corr-1"),
	)
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, events.KindCreate, ev.Kind)
	assert.Equal(t, events.PriorityHigh, ev.Priority)
	assert.Equal(t, "corr-1", ev.CorrelationID)
	assert.False(t, ev.IsExpired())

	assert.Equal(t, 1, b.history.Len())
	snap := b.Metrics()
	assert.EqualValues(t, 1, snap.TotalEvents)
	assert.EqualValues(t, 1, snap.EventsByKind["create"])
	assert.EqualValues(t, 1, snap.EventsBySource["store"])
}

func TestWaitForUpdatesReceivesConcurrentEmit(t *testing.T) {
	b := newTestBroker(t)
	id, release, err := b.Session("c1", nil)
	require.NoError(t, err)
	defer release()

	done := make(chan WaitResult, 1)
	go func() {
		done <- b.WaitForUpdates(context.Background(), id, WaitRequest{
			Targets: []string{"note"},
			Timeout: time.Second,
		})
	}()

	time.Sleep(100 * time.Millisecond) // let the wait subscribe
	ev, err := b.Emit(context.Background(), events.KindCreate, "ui", "note", "create_note", map[string]any{"id": "n1"})
	require.NoError(t, err)

	res := <-done
	assert.Equal(t, StatusUpdates, res.Status)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "note", res.Events[0].Target)
	assert.Equal(t, ev.ID, res.LastEventID)
	assert.Equal(t, 1, res.Summary.Total)
}

func TestWaitForUpdatesTimesOut(t *testing.T) {
	b := newTestBroker(t)

	res := b.WaitForUpdates(context.Background(), "c2", WaitRequest{Timeout: time.Second})

	assert.Equal(t, StatusTimeout, res.Status)
	assert.Empty(t, res.Events)
	assert.GreaterOrEqual(t, res.Duration, 900*time.Millisecond)
	assert.Less(t, res.Duration, 2*time.Second)
}

func TestWaitForUpdatesClampsTimeout(t *testing.T) {
	b := newTestBroker(t, WithMaxWait(100*time.Millisecond))

	res := b.WaitForUpdates(context.Background(), "c3", WaitRequest{Timeout: time.Hour})

	assert.Equal(t, StatusTimeout, res.Status)
	assert.Less(t, res.Duration, time.Second)
}

func TestWaitForUpdatesCriticalReturnsEarly(t *testing.T) {
	b := newTestBroker(t)
	id, release, err := b.Session("c5", nil)
	require.NoError(t, err)
	defer release()

	// Establish the subscription with a throwaway wait, then queue events
	// before the real wait starts so arrival order is deterministic.
	b.WaitForUpdates(context.Background(), id, WaitRequest{
		Targets: []string{"note"},
		Timeout: 10 * time.Millisecond,
	})

	conn, ok := b.registry.Get(id)
	require.True(t, ok)

	ctx := context.Background()
	_, err = b.Emit(ctx, events.KindUpdate, "store", "note", "update_note", map[string]any{"id": "n1"})
	require.NoError(t, err)
	_, err = b.Emit(ctx, events.KindUpdate, "store", "note", "update_note", map[string]any{"id": "n2"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.Pending() == 2 }, time.Second, 5*time.Millisecond)

	critical, err := b.Emit(ctx, events.KindConflict, "store", "note", "conflict", map[string]any{"id": "n1"},
		WithPriority(events.PriorityCritical))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conn.Pending() == 3 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	res := b.WaitForUpdates(ctx, id, WaitRequest{Targets: []string{"note"}, Timeout: 30 * time.Second})

	assert.Less(t, time.Since(start), 5*time.Second, "critical event should end the wait immediately")
	assert.Equal(t, StatusUpdates, res.Status)
	require.Len(t, res.Events, 3)
	assert.Equal(t, critical.ID, res.Events[2].ID)
	assert.Equal(t, critical.ID, res.LastEventID)
}

func TestWaitForUpdatesAppliesFilter(t *testing.T) {
	b := newTestBroker(t)
	id, release, err := b.Session("c6", nil)
	require.NoError(t, err)
	defer release()

	done := make(chan WaitResult, 1)
	go func() {
		done <- b.WaitForUpdates(context.Background(), id, WaitRequest{
			Targets: []string{"note"},
			Timeout: 500 * time.Millisecond,
			Filter:  &events.Filter{Kinds: []events.Kind{events.KindDelete}},
		})
	}()

	time.Sleep(100 * time.Millisecond)
	_, err = b.Emit(context.Background(), events.KindCreate, "ui", "note", "create_note", map[string]any{"id": "n1"})
	require.NoError(t, err)

	res := <-done
	assert.Equal(t, StatusTimeout, res.Status, "filtered-out events should not count as updates")
}

func TestWaitForUpdatesErrorOnCancel(t *testing.T) {
	b := newTestBroker(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res := b.WaitForUpdates(ctx, "c7", WaitRequest{Timeout: 5 * time.Second})

	assert.Equal(t, StatusError, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 1, b.Connections(), "a non-temporary connection survives a failed wait")
}

func TestTemporaryConnectionRemovedAfterWait(t *testing.T) {
	b := newTestBroker(t)
	id, err := b.TemporaryConnection("tmp")
	require.NoError(t, err)
	require.Equal(t, 1, b.Connections())

	res := b.WaitForUpdates(context.Background(), id, WaitRequest{Timeout: 50 * time.Millisecond})

	assert.Equal(t, StatusTimeout, res.Status)
	assert.Equal(t, 0, b.Connections(), "temporary connection is released on every exit path")
}

func TestTemporaryConnectionRemovedOnCancelledWait(t *testing.T) {
	b := newTestBroker(t)
	id, err := b.TemporaryConnection("tmp")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := b.WaitForUpdates(ctx, id, WaitRequest{Timeout: 5 * time.Second})

	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, 0, b.Connections())
}

func TestConnectionCapacity(t *testing.T) {
	b := newTestBroker(t)

	releases := make([]func(), 0, 100)
	for i := 0; i < 100; i++ {
		_, release, err := b.Session("", nil)
		require.NoError(t, err)
		releases = append(releases, release)
	}
	defer func() {
		for _, release := range releases {
			release()
		}
	}()

	_, _, err := b.Session("", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestConcurrentEmitsAllDelivered(t *testing.T) {
	b := newTestBroker(t)
	id, release, err := b.Session("fanout", nil)
	require.NoError(t, err)
	defer release()

	conn, ok := b.registry.Get(id)
	require.True(t, ok)
	conn.Subscribe("*")

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := b.Emit(context.Background(), events.KindUpdate, "store", "note", "update_note", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return conn.Pending() == n }, 2*time.Second, 10*time.Millisecond,
		"every concurrent emit should land in the inbox exactly once")
	assert.Equal(t, n, b.history.Len())
}

func TestRateLimitedDeliveriesAreSkipped(t *testing.T) {
	b := newTestBroker(t, WithRateLimit(2, time.Minute))
	id, release, err := b.Session("limited", nil)
	require.NoError(t, err)
	defer release()

	conn, ok := b.registry.Get(id)
	require.True(t, ok)
	conn.Subscribe("*")

	for i := 0; i < 3; i++ {
		_, err := b.Emit(context.Background(), events.KindUpdate, "store", "note", "update_note", nil)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool {
		return b.Metrics().RateLimitHits == 1 && conn.Pending() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFailedDeliveryIsRecordedNotRaised(t *testing.T) {
	b := newTestBroker(t,
		WithInboxSize(1),
		WithEnqueueTimeout(10*time.Millisecond),
		WithRetryDelay(5*time.Millisecond),
	)
	id, release, err := b.Session("slow", nil)
	require.NoError(t, err)
	defer release()

	conn, ok := b.registry.Get(id)
	require.True(t, ok)
	conn.Subscribe("*")

	// Nothing drains the inbox, so the second event exhausts its retries.
	for i := 0; i < 2; i++ {
		_, err := b.Emit(context.Background(), events.KindUpdate, "store", "note", "update_note", nil)
		require.NoError(t, err, "delivery failure must never surface to the emitter")
	}

	assert.Eventually(t, func() bool { return b.Metrics().FailedDeliveries == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, conn.Pending())
}

func TestHistoryEvictsOldest(t *testing.T) {
	b := newTestBroker(t)

	first, err := b.Emit(context.Background(), events.KindCreate, "store", "note", "create_note", map[string]any{"seq": 0})
	require.NoError(t, err)

	var second events.Event
	for i := 1; i <= 1000; i++ {
		ev, err := b.Emit(context.Background(), events.KindUpdate, "store", "note", "update_note", map[string]any{"seq": i})
		require.NoError(t, err)
		if i == 1 {
			second = ev
		}
	}

	require.Equal(t, 1000, b.history.Len(), "history is capped at 1000 after 1001 inserts")

	res := b.SyncChanges("", first.ID, false)
	require.Len(t, res.Events, 1000, "an aged-out sync id restarts from the oldest retained event")
	assert.Equal(t, second.ID, res.Events[0].ID, "event #1 is never returned")
	assert.Equal(t, res.Events[len(res.Events)-1].ID, res.NextSyncID)
}

func TestSyncChangesResumesAfterToken(t *testing.T) {
	b := newTestBroker(t)

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ev, err := b.Emit(context.Background(), events.KindUpdate, "store", "note", "update_note", map[string]any{"seq": i})
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}

	res := b.SyncChanges("", ids[2], false)
	require.Len(t, res.Events, 2, "the event carrying the token itself is excluded")
	assert.Equal(t, ids[3], res.Events[0].ID)
	assert.Equal(t, ids[4], res.Events[1].ID)
	assert.Equal(t, ids[4], res.NextSyncID)

	again := b.SyncChanges("", res.NextSyncID, false)
	assert.Empty(t, again.Events)
	assert.Equal(t, ids[4], again.NextSyncID, "the token is unchanged when nothing qualified")
}

func TestSyncChangesSkipsExpired(t *testing.T) {
	b := newTestBroker(t)

	_, err := b.Emit(context.Background(), events.KindUpdate, "store", "note", "update_note", nil,
		WithTTL(time.Nanosecond))
	require.NoError(t, err)
	kept, err := b.Emit(context.Background(), events.KindUpdate, "store", "note", "update_note", nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	res := b.SyncChanges("", "", false)
	require.Len(t, res.Events, 1)
	assert.Equal(t, kept.ID, res.Events[0].ID)
}

func TestSyncChangesFullState(t *testing.T) {
	b := newTestBroker(t, WithStateSnapshot(func() map[string]any {
		return map[string]any{"notes": map[string]any{"n1": "hello"}}
	}))

	res := b.SyncChanges("", "", true)
	assert.Equal(t, map[string]any{"notes": map[string]any{"n1": "hello"}}, res.State)

	res = b.SyncChanges("", "", false)
	assert.Nil(t, res.State)
}

func TestSessionReleaseIsIdempotent(t *testing.T) {
	b := newTestBroker(t)
	id, release, err := b.Session("sess", nil)
	require.NoError(t, err)
	assert.Equal(t, "sess", id)
	require.Equal(t, 1, b.Connections())

	release()
	assert.Equal(t, 0, b.Connections())
	assert.NotPanics(t, release)

	// the id is free for reuse after release
	_, release2, err := b.Session("sess", nil)
	require.NoError(t, err)
	release2()
}
