package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReader struct {
	msgs chan kafka.Message

	mu      sync.Mutex
	commits map[int][]int64
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	ch := make(chan kafka.Message, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	return &fakeReader{msgs: ch, commits: map[int][]int64{}}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.commits[m.Partition] = append(r.commits[m.Partition], m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) committed(partition int) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.commits[partition]...)
}

func (r *fakeReader) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.commits {
		n += len(c)
	}
	return n
}

func testConsumer(r messageReader, workers int) *Consumer {
	c := newConsumer(r, workers, zap.NewNop())
	c.RetryBase = time.Millisecond
	c.RetryMax = 5 * time.Millisecond
	return c
}

func run(t *testing.T, c *Consumer, h Handler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx, h) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestConsumerRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	r := newFakeReader(
		kafka.Message{Topic: "t", Partition: 0, Offset: 10},
		kafka.Message{Topic: "t", Partition: 0, Offset: 11},
		kafka.Message{Topic: "t", Partition: 0, Offset: 12},
	)
	var mu sync.Mutex
	calls := map[int64]int{}
	var order []int64
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls[m.Offset]++
		if m.Offset == 11 && calls[m.Offset] < 3 {
			return errors.New("cache down")
		}
		order = append(order, m.Offset)
		return nil
	}

	cancel, done := run(t, testConsumer(r, 1), h)
	require.Eventually(t, func() bool { return r.total() == 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{10, 11, 12}, r.committed(0))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls[11])
	assert.Equal(t, []int64{10, 11, 12}, order)
}

func TestConsumerCommitsEachPartitionInOrder(t *testing.T) {
	var msgs []kafka.Message
	for off := int64(0); off < 20; off++ {
		for p := 0; p < 3; p++ {
			msgs = append(msgs, kafka.Message{Topic: "t", Partition: p, Offset: off})
		}
	}
	r := newFakeReader(msgs...)
	type pos struct {
		partition int
		offset    int64
	}
	var mu sync.Mutex
	failed := map[pos]bool{}
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		at := pos{m.Partition, m.Offset}
		if m.Offset%7 == 3 && !failed[at] {
			failed[at] = true
			return errors.New("transient")
		}
		return nil
	}

	cancel, done := run(t, testConsumer(r, 4), h)
	require.Eventually(t, func() bool { return r.total() == len(msgs) }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for p := 0; p < 3; p++ {
		got := r.committed(p)
		require.Len(t, got, 20)
		for i, off := range got {
			assert.Equal(t, int64(i), off, "partition %d", p)
		}
	}
}

func TestConsumerStopsWhileRetrying(t *testing.T) {
	r := newFakeReader(kafka.Message{Topic: "t", Partition: 0, Offset: 1})
	attempts := make(chan struct{}, 100)
	h := func(context.Context, kafka.Message) error {
		select {
		case attempts <- struct{}{}:
		default:
		}
		return errors.New("always")
	}

	cancel, done := run(t, testConsumer(r, 2), h)
	<-attempts
	<-attempts
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Empty(t, r.committed(0))
}
