// Package dispatch runs bot requests with one worker per active chat, so a
// chat's commands are handled in arrival order while different chats proceed
// in parallel.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/cookbook/internal/models"
)

// HandleFunc processes a single request
type HandleFunc func(ctx context.Context, req models.Request) error

type Dispatcher struct {
	ctx    context.Context
	handle HandleFunc

	mu     sync.Mutex
	queues map[int64][]models.Request
	closed bool
	wg     sync.WaitGroup
}

// New creates a dispatcher. Handlers run with a context detached from ctx's
// cancellation so a request that started is allowed to finish on shutdown.
func New(ctx context.Context, handle HandleFunc) *Dispatcher {
	return &Dispatcher{
		ctx:    context.WithoutCancel(ctx),
		handle: handle,
		queues: make(map[int64][]models.Request),
	}
}

// Submit queues req behind earlier requests of the same chat. It returns
// false once the dispatcher is closed.
func (d *Dispatcher) Submit(req models.Request) bool {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		slog.Warn("Dropping request after shutdown", "request_id", req.ID, "chat_id", req.ChatID)
		return false
	}

	queue, active := d.queues[req.ChatID]
	d.queues[req.ChatID] = append(queue, req)
	if !active {
		d.wg.Add(1)
		go d.work(req.ChatID)
	}
	return true
}

// Pending reports the number of queued or running requests for a chat
func (d *Dispatcher) Pending(chatID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues[chatID])
}

// Close stops accepting requests and waits for queued ones to finish
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work(chatID int64) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		queue := d.queues[chatID]
		if len(queue) == 0 {
			delete(d.queues, chatID)
			d.mu.Unlock()
			return
		}
		req := queue[0]
		d.mu.Unlock()

		d.run(req)

		d.mu.Lock()
		d.queues[chatID] = d.queues[chatID][1:]
		d.mu.Unlock()
	}
}

func (d *Dispatcher) run(req models.Request) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Request handler panicked", "request_id", req.ID, "chat_id", req.ChatID, "intent", req.Intent, "panic", fmt.Sprint(r))
		}
	}()

	slog.Debug("Handling request", "request_id", req.ID, "chat_id", req.ChatID, "intent", req.Intent)
	if err := d.handle(d.ctx, req); err != nil {
		slog.Error("Request finished with error", "request_id", req.ID, "chat_id", req.ChatID, "intent", req.Intent, "err", err)
	}
}
