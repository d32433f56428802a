package host

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDocument_Attributes(t *testing.T) {
	ctx := context.Background()
	doc := NewMemoryDocument()

	id, err := doc.CreateNode(ctx, "GenJob")
	require.NoError(t, err)

	_, found, err := doc.GetAttribute(ctx, id, "status")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, doc.SetAttribute(ctx, id, "status", "Ready"))
	v, found, err := doc.GetAttribute(ctx, id, "status")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Ready", v)

	typ, err := doc.NodeType(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "GenJob", typ)

	attrs, err := doc.Attributes(ctx, id)
	require.NoError(t, err)
	attrs["status"] = "mutated"
	v, _, _ = doc.GetAttribute(ctx, id, "status")
	assert.Equal(t, "Ready", v, "Attributes must return a copy")
}

func TestMemoryDocument_UnknownNode(t *testing.T) {
	ctx := context.Background()
	doc := NewMemoryDocument()

	_, _, err := doc.GetAttribute(ctx, "missing", "x")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.ErrorIs(t, doc.SetAttribute(ctx, "missing", "x", "y"), ErrNodeNotFound)
	_, err = doc.NodeType(ctx, "missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestMemoryDocument_ListNodesByType(t *testing.T) {
	ctx := context.Background()
	doc := NewMemoryDocument()
	a, _ := doc.CreateNode(ctx, "GenJob")
	_, _ = doc.CreateNode(ctx, "Read")
	b, _ := doc.CreateNode(ctx, "GenJob")

	ids, err := doc.ListNodes(ctx, "GenJob")
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, ids)

	all, err := doc.ListNodes(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func startDispatcher(t *testing.T) (*Dispatcher, context.CancelFunc) {
	t.Helper()
	d := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-d.Stopped()
	})
	return d, cancel
}

func TestDispatcher_RunsTasksInOrderOnOneGoroutine(t *testing.T) {
	d, _ := startDispatcher(t)

	var mu sync.Mutex
	var got []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		i := i
		require.True(t, d.Post("append", func(context.Context) {
			defer wg.Done()
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	wg.Wait()

	for i := range got {
		assert.Equal(t, i, got[i])
	}
}

func TestDispatcher_DoReturnsTaskError(t *testing.T) {
	d, _ := startDispatcher(t)

	err := d.Do(context.Background(), "fail", func(context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestDispatcher_PanicDoesNotStopQueue(t *testing.T) {
	d, _ := startDispatcher(t)

	err := d.Do(context.Background(), "boom", func(context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	err = d.Do(context.Background(), "after", func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestDispatcher_DrainsQueuedTasksOnShutdown(t *testing.T) {
	d := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	ran := make(chan struct{})
	d.Post("late", func(context.Context) { close(ran) })
	cancel()
	d.Run(ctx)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("queued task was not drained")
	}
	assert.False(t, d.Post("after-stop", func(context.Context) {}))
	assert.ErrorIs(t, d.Do(context.Background(), "after-stop", func(context.Context) error { return nil }), ErrDispatcherStopped)
}
