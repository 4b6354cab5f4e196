package kafka

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler returns nil only when the message may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

const (
	DefaultRetryBase = 200 * time.Millisecond
	DefaultRetryMax  = 10 * time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	logger  *zap.Logger

	RetryBase time.Duration
	RetryMax  time.Duration
}

func NewConsumer(brokers []string, group string, topics []string, workers int, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    topics,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, logger)
}

func newConsumer(r messageReader, workers int, logger *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		r:         r,
		workers:   workers,
		logger:    logger,
		RetryBase: DefaultRetryBase,
		RetryMax:  DefaultRetryMax,
	}
}

// Start fetches messages until ctx is done. Every partition is owned by one
// worker, which handles its messages in offset order and retries a failing
// message with backoff until it succeeds, so a commit never passes over an
// unhandled offset. A handler that keeps failing stalls its partition.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(id int, jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				if !c.handle(ctx, id, h, m) {
					return
				}
			}
		}(i, queues[i])
	}
	stop := func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case queues[c.worker(m)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// handle reports false once ctx is done and the worker should exit.
func (c *Consumer) handle(ctx context.Context, id int, h Handler, m kafka.Message) bool {
	backoff := c.RetryBase
	for attempt := 1; ; attempt++ {
		err := h(ExtractContext(ctx, m.Headers), m)
		if err == nil {
			break
		}
		c.logger.Warn("handle message, retrying",
			zap.Int("worker", id),
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > c.RetryMax {
			backoff = c.RetryMax
		}
	}

	if err := c.r.CommitMessages(ctx, m); err != nil {
		if ctx.Err() != nil {
			return false
		}
		// a later commit on the same partition covers this offset
		c.logger.Error("commit message",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Error(err),
		)
	}
	return true
}

func (c *Consumer) worker(m kafka.Message) int {
	f := fnv.New32a()
	_, _ = f.Write([]byte(m.Topic + "/" + strconv.Itoa(m.Partition)))
	return int(f.Sum32() % uint32(c.workers))
}
