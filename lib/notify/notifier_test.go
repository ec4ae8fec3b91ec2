package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dGrid/lib/async"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func await(t *testing.T, s *async.Stage[async.Void]) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.Await(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func TestQueueDeliversEverything(t *testing.T) {
	q := newMPSCQueue[int]()

	const producers, perProducer = 8, 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := p*perProducer + i
				q.push(&v)
			}
		}(p)
	}

	seen := make(map[int]bool)
	done := make(chan struct{})
	go func() {
		for v := range q.recv() {
			seen[*v] = true
		}
		close(done)
	}()

	wg.Wait()
	q.close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}
	assert.Len(t, seen, producers*perProducer)
	assert.False(t, q.push(new(int)), "push after close must fail")
}

func TestSyncAndAsyncListeners(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	var syncCalls, asyncCalls atomic.Int32
	n.AddListener(func(_ context.Context, ev Event) error {
		syncCalls.Add(1)
		return nil
	}, false)
	n.AddListener(func(_ context.Context, ev Event) error {
		time.Sleep(10 * time.Millisecond)
		asyncCalls.Add(1)
		return nil
	}, true)

	ictx := grid.NewInvocationContext()
	s := n.NotifyEntryLoaded(context.Background(), ictx, nil, "k", []byte("v"), grid.Metadata{}, true)
	assert.Equal(t, int32(1), syncCalls.Load(), "sync listener runs inline")

	require.NoError(t, await(t, s))
	assert.Equal(t, int32(1), asyncCalls.Load(), "stage completes after the async listener")
}

func TestEventContent(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	var got Event
	n.AddListener(func(_ context.Context, ev Event) error {
		got = ev
		return nil
	}, false)

	ictx := grid.NewRemoteInvocationContext("node-2")
	require.NoError(t, await(t, n.NotifyEntryActivated(context.Background(), ictx, nil, "k", []byte("v"), grid.Metadata{Version: 4}, false)))

	assert.Equal(t, EventEntryActivated, got.Type)
	assert.Equal(t, "k", got.Key)
	assert.Equal(t, []byte("v"), got.Value)
	assert.Equal(t, uint64(4), got.Metadata.Version)
	assert.False(t, got.Pre)
	assert.Equal(t, "node-2", got.Origin)
	assert.Equal(t, ictx.ID(), got.TxID)
}

func TestListenerTypeFilter(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	var calls atomic.Int32
	n.AddListener(func(context.Context, Event) error {
		calls.Add(1)
		return nil
	}, false, EventEntryActivated)

	assert.False(t, n.HasListeners(EventEntryLoaded))
	assert.True(t, n.HasListeners(EventEntryActivated))

	require.NoError(t, await(t, n.NotifyEntryLoaded(context.Background(), nil, nil, "k", nil, grid.Metadata{}, true)))
	assert.Equal(t, int32(0), calls.Load())
	require.NoError(t, await(t, n.NotifyEntryActivated(context.Background(), nil, nil, "k", nil, grid.Metadata{}, true)))
	assert.Equal(t, int32(1), calls.Load())
}

func TestListenerFailure(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	boom := errors.New("boom")
	n.AddListener(func(context.Context, Event) error { return boom }, true)

	err := await(t, n.NotifyEntryLoaded(context.Background(), nil, nil, "k", nil, grid.Metadata{}, false))
	assert.ErrorIs(t, err, boom)
}

func TestListenerPanic(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	n.AddListener(func(context.Context, Event) error { panic("bad listener") }, false)
	err := await(t, n.NotifyEntryLoaded(context.Background(), nil, nil, "k", nil, grid.Metadata{}, false))
	assert.ErrorContains(t, err, "bad listener")
}

func TestSkipListenerNotification(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	var calls atomic.Int32
	n.AddListener(func(context.Context, Event) error {
		calls.Add(1)
		return nil
	}, false)

	cmd := grid.NewKeyCommand(grid.CommandTGet, "k", grid.FlagSkipListenerNotification)
	s := n.NotifyEntryLoaded(context.Background(), nil, cmd, "k", nil, grid.Metadata{}, true)
	assert.True(t, s.IsCompletedSuccessfully())
	assert.Equal(t, int32(0), calls.Load())
}

func TestRemoveListener(t *testing.T) {
	n := NewNotifier()
	defer n.Close()

	id := n.AddListener(func(context.Context, Event) error { return errors.New("must not run") }, false)
	assert.True(t, n.RemoveListener(id))
	assert.False(t, n.RemoveListener(id))

	require.NoError(t, await(t, n.NotifyEntryLoaded(context.Background(), nil, nil, "k", nil, grid.Metadata{}, true)))
}

func TestCloseDrainsQueue(t *testing.T) {
	n := NewNotifier()

	var calls atomic.Int32
	n.AddListener(func(context.Context, Event) error {
		time.Sleep(time.Millisecond)
		calls.Add(1)
		return nil
	}, true)

	stages := make([]*async.Stage[async.Void], 20)
	for i := range stages {
		stages[i] = n.NotifyEntryLoaded(context.Background(), nil, nil, "k", nil, grid.Metadata{}, false)
	}
	n.Close()
	n.Close()

	assert.Equal(t, int32(20), calls.Load())
	for _, s := range stages {
		assert.True(t, s.IsCompletedSuccessfully())
	}

	err := await(t, n.NotifyEntryLoaded(context.Background(), nil, nil, "k", nil, grid.Metadata{}, false))
	assert.ErrorIs(t, err, ErrClosed)
}
