package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/school-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/school-search/pkg/kafka"
)

type fakePublisher struct {
	mu      sync.Mutex
	batches [][]kafka.Event
	err     error
}

func (f *fakePublisher) PublishBatch(_ context.Context, events []kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, events)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func search(q string) analytics.SearchEvent {
	return analytics.SearchEvent{Type: analytics.EventSearch, Query: q, Returned: 1}
}

func TestFlushPublishesKeyedEvents(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, 10, time.Hour)

	bc.Track(search("foley"))
	bc.Track(analytics.ReindexEvent{Trigger: "refresh"})
	bc.Flush(context.Background())

	require.Len(t, pub.batches, 1)
	require.Len(t, pub.batches[0], 2)
	assert.Equal(t, "search", pub.batches[0][0].Key)
	assert.Equal(t, "reindex", pub.batches[0][1].Key)
	assert.Zero(t, bc.BufferLen())
}

func TestFullBatchFlushesInBackground(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, 2, time.Hour)

	bc.Track(search("a"))
	bc.Track(search("b"))

	assert.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestFailedFlushRequeuesWithinLimit(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	bc := NewBatchCollector(pub, 2, time.Hour)
	for i := 0; i < 10; i++ {
		bc.mu.Lock()
		bc.buffer = append(bc.buffer, kafka.Event{Key: "search"})
		bc.mu.Unlock()
	}

	bc.Flush(context.Background())

	assert.Equal(t, 6, bc.BufferLen())
}

func TestStartFlushesOnShutdown(t *testing.T) {
	pub := &fakePublisher{}
	bc := NewBatchCollector(pub, 100, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	bc.Start(ctx)

	bc.Track(search("foley"))
	cancel()
	bc.Close()

	assert.Equal(t, 1, pub.count())
}
