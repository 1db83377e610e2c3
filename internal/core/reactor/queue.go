package reactor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-msgport/pkg/interfaces"
)

var _ interfaces.WorkQueue = (*Queue)(nil)

// DefaultConcurrency 默认并发度
const DefaultConcurrency = 4

// Queue 并发工作队列
//
// Submit 不阻塞提交方；工作单元在独立 goroutine 中等待信号量后执行。
type Queue struct {
	sem *semaphore.Weighted
	ctx context.Context

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewQueue 创建并发度为 concurrency 的工作队列
func NewQueue(concurrency int) *Queue {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		sem:    semaphore.NewWeighted(int64(concurrency)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit 提交工作单元
func (q *Queue) Submit(fn func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			log.Debug("工作单元被丢弃", "err", err)
			return
		}
		defer q.sem.Release(1)
		fn()
	}()
	return nil
}

// Close 关闭队列并等待已提交的工作单元执行完毕
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
	return nil
}
