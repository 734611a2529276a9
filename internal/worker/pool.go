package worker

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qs3c/anal_data_server/internal/pkg/queue"
)

// JobSource 任务来源
type JobSource interface {
	Pop(ctx context.Context, timeout time.Duration) (*queue.JobMessage, error)
}

// JobHandler 处理单个任务
type JobHandler interface {
	Process(ctx context.Context, msg *queue.JobMessage) error
}

// Pool 固定数量的 worker 从队列取任务执行
type Pool struct {
	source     JobSource
	handler    JobHandler
	workers    int
	popTimeout time.Duration
}

func NewPool(source JobSource, handler JobHandler, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		source:     source,
		handler:    handler,
		workers:    workers,
		popTimeout: 5 * time.Second,
	}
}

// Run 阻塞直到 ctx 取消，所有 worker 退出后返回
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		workerID := i
		g.Go(func() error {
			p.loop(ctx, workerID)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", workerID)
			return
		default:
		}

		msg, err := p.source.Pop(ctx, p.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Worker %d: failed to pop job: %v", workerID, err)
			// 避免 Redis 不可用时空转
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue // 超时，继续等待
		}

		log.Printf("Worker %d: processing job %d", workerID, msg.JobID)
		if err := p.handle(ctx, msg); err != nil {
			log.Printf("Worker %d: job %d failed: %v", workerID, msg.JobID, err)
		}
	}
}

// handle 单个任务 panic 不影响 worker
func (p *Pool) handle(ctx context.Context, msg *queue.JobMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return p.handler.Process(ctx, msg)
}
