package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by ClaimBlocking when nothing arrived in time.
var ErrEmpty = errors.New("queue empty")

type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	// InFlight counts claimed but unacknowledged jobs.
	InFlight(ctx context.Context) (int64, error)
}

type Lane struct {
	QueueKey      string
	ProcessingKey string
}

// redisQueue is a Redis list queue.
// Enqueue: LPUSH lane.queue
// Claim:   BLMOVE lane.queue -> lane.processing (RIGHT, LEFT)
// Ack:     LREM lane.processing
// Nothing moves ids from processing back to the queue: a job whose worker
// dies stays claimed and is never executed twice.
type redisQueue struct {
	rdb  redis.UniversalClient
	lane Lane
}

func NewRedisQueue(rdb redis.UniversalClient, lane Lane) Queue {
	if lane.QueueKey == "" {
		lane.QueueKey = "convert:jobs:queue"
	}
	if lane.ProcessingKey == "" {
		lane.ProcessingKey = lane.QueueKey + ":processing"
	}
	return &redisQueue{rdb: rdb, lane: lane}
}

func (q *redisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.lane.QueueKey, jobID).Err()
}

// ClaimBlocking waits up to timeout for a job. timeout <= 0 waits until ctx
// is done, polling in one-second slots so cancellation is noticed.
func (q *redisQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	forever := timeout <= 0
	deadline := time.Now().Add(timeout)

	slot := time.Second
	if !forever && timeout < slot {
		slot = timeout
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		wait := slot
		if !forever {
			remain := time.Until(deadline)
			if remain <= 0 {
				return "", ErrEmpty
			}
			if remain < wait {
				wait = remain
			}
		}

		id, err := q.rdb.BLMove(ctx, q.lane.QueueKey, q.lane.ProcessingKey, "RIGHT", "LEFT", wait).Result()
		if err == nil {
			return id, nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		return "", err
	}
}

func (q *redisQueue) Ack(ctx context.Context, jobID string) error {
	return q.rdb.LRem(ctx, q.lane.ProcessingKey, 1, jobID).Err()
}

func (q *redisQueue) InFlight(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.lane.ProcessingKey).Result()
}

// memoryQueue is a FIFO for single-process deployments.
type memoryQueue struct {
	mu       sync.Mutex
	items    []string
	inflight map[string]struct{}
	signal   chan struct{}
}

func NewMemoryQueue() Queue {
	return &memoryQueue{inflight: map[string]struct{}{}, signal: make(chan struct{}, 1)}
}

func (q *memoryQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	q.items = append(q.items, jobID)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

func (q *memoryQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	id := q.items[0]
	q.items = q.items[1:]
	q.inflight[id] = struct{}{}
	return id, true
}

func (q *memoryQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		if id, ok := q.pop(); ok {
			// pass the wakeup on if more work is waiting
			q.mu.Lock()
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return id, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-expired:
			return "", ErrEmpty
		case <-q.signal:
		}
	}
}

func (q *memoryQueue) Ack(ctx context.Context, jobID string) error {
	q.mu.Lock()
	delete(q.inflight, jobID)
	q.mu.Unlock()
	return nil
}

func (q *memoryQueue) InFlight(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.inflight)), nil
}
