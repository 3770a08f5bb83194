package jobx

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Abraxas-365/recibo/pkg/logx"
	"github.com/google/uuid"
)

// HandlerFunc processes one claimed job. The returned raw message is stored
// as the job result. A plain error triggers retry with backoff; an error
// wrapped with Permanent moves the job straight to failed.
type HandlerFunc func(ctx context.Context, job *Job) (json.RawMessage, error)

// Client owns the task queue: it enqueues jobs, runs the per-queue worker
// pools and exposes read-only status. All state lives in the injected Store.
type Client struct {
	store    Store
	opts     WorkerOptions
	handlers map[QueueName]HandlerFunc
	mu       sync.RWMutex
	running  bool
}

// NewClient creates a task-queue client on top of store.
func NewClient(store Store, options ...WorkerOption) *Client {
	opts := defaultWorkerOptions()
	for _, o := range options {
		o(&opts)
	}
	return &Client{
		store:    store,
		opts:     opts,
		handlers: make(map[QueueName]HandlerFunc),
	}
}

// Register sets the handler of a queue. Each queue has exactly one handler.
func (c *Client) Register(queue QueueName, handler HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[queue] = handler
}

// Enqueue validates the payload against its queue schema and persists a new
// waiting job, returning its id.
func (c *Client) Enqueue(ctx context.Context, payload Payload, options ...EnqueueOption) (string, error) {
	queue := payload.QueueName()
	if !queue.Valid() {
		return "", jobxErrors.New(ErrUnknownQueue).WithDetail("queue", string(queue))
	}

	data, err := EncodePayload(payload)
	if err != nil {
		return "", err
	}

	var eo EnqueueOptions
	for _, o := range options {
		o(&eo)
	}
	if eo.MaxAttempts == 0 {
		eo.MaxAttempts = queue.DefaultMaxAttempts()
	}

	now := time.Now().UTC()
	job := &Job{
		ID:             uuid.New().String(),
		Queue:          queue,
		Payload:        data,
		Priority:       eo.Priority,
		State:          StateWaiting,
		MaxAttempts:    eo.MaxAttempts,
		NextEligibleAt: now,
		CreatedAt:      now,
	}

	if err := c.store.Create(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// GetJob returns the current state of a job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return c.store.Get(ctx, jobID)
}

// Stats returns the per-state counts of one queue.
func (c *Client) Stats(ctx context.Context, queue QueueName) (Stats, error) {
	if !queue.Valid() {
		return Stats{}, jobxErrors.New(ErrUnknownQueue).WithDetail("queue", string(queue))
	}
	return c.store.Stats(ctx, queue)
}

// AllStats returns the stats of every queue.
func (c *Client) AllStats(ctx context.Context) (map[QueueName]Stats, error) {
	out := make(map[QueueName]Stats, len(Queues()))
	for _, q := range Queues() {
		s, err := c.store.Stats(ctx, q)
		if err != nil {
			return nil, err
		}
		out[q] = s
	}
	return out, nil
}

// Retry manually returns a terminal failed job to waiting, immediately
// eligible. Whether the attempt counter restarts is governed by the
// ResetAttemptsOnManualRetry option.
func (c *Client) Retry(ctx context.Context, jobID string) error {
	return c.store.RequeueManual(ctx, jobID, c.opts.ResetAttemptsOnManualRetry, time.Now().UTC())
}

// Start runs the worker pools and the janitor until ctx is cancelled, then
// drains in-flight jobs within the shutdown timeout.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return jobxErrors.New(ErrAlreadyRunning)
	}
	queues := make([]QueueName, 0, len(c.handlers))
	for q := range c.handlers {
		queues = append(queues, q)
	}
	if len(queues) == 0 {
		c.mu.Unlock()
		return jobxErrors.NewWithMessage(ErrNoHandler, "no handlers registered, nothing to run")
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.janitorLoop(ctx)
	}()

	for _, queue := range queues {
		n := c.opts.Concurrency
		if qn, ok := c.opts.QueueConcurrency[queue]; ok {
			n = qn
		}
		logx.Infof("jobx: starting %d workers on queue %q", n, queue)
		for i := range n {
			wg.Add(1)
			go func(queue QueueName, id int) {
				defer wg.Done()
				c.workerLoop(ctx, queue, id)
			}(queue, i)
		}
	}

	<-ctx.Done()
	logx.Info("jobx: shutting down workers...")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logx.Info("jobx: all workers stopped")
	case <-time.After(c.opts.ShutdownTimeout):
		logx.Warn("jobx: shutdown timed out, some jobs may still hold their lease")
	}

	return nil
}

func (c *Client) workerLoop(ctx context.Context, queue QueueName, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := c.store.Claim(ctx, queue, time.Now().UTC(), c.opts.LeaseTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.WithError(err).Warnf("jobx: worker %s/%d claim error", queue, id)
			sleepCtx(ctx, c.opts.PollInterval)
			continue
		}
		if job == nil {
			sleepCtx(ctx, c.opts.PollInterval)
			continue
		}

		c.processJob(ctx, job)
	}
}

// processJob runs the queue handler and reports the outcome back to the
// store. Handler panics and errors never cross the async boundary; they end
// up as the stored failure reason.
func (c *Client) processJob(ctx context.Context, job *Job) {
	c.mu.RLock()
	handler, ok := c.handlers[job.Queue]
	c.mu.RUnlock()

	now := func() time.Time { return time.Now().UTC() }

	if !ok {
		noHandler := jobxErrors.New(ErrNoHandler).WithDetail("queue", string(job.Queue))
		logx.WithError(noHandler).Warnf("jobx: dead-lettering job %s (queue=%s)", job.ID, job.Queue)
		if err := c.store.Fail(ctx, job.ID, noHandler.Error(), nil, now()); err != nil {
			logx.WithError(err).Errorf("jobx: failed to dead-letter job %s", job.ID)
		}
		return
	}

	result, handlerErr := c.runHandler(ctx, handler, job)
	if handlerErr == nil {
		if err := c.store.Complete(ctx, job.ID, result, now()); err != nil {
			logx.WithError(err).Errorf("jobx: failed to complete job %s", job.ID)
		}
		return
	}

	logx.WithError(handlerErr).Warnf("jobx: job %s (queue=%s, attempt %d/%d) failed",
		job.ID, job.Queue, job.Attempts, job.MaxAttempts)

	var retryAt *time.Time
	if !IsPermanent(handlerErr) && job.Attempts < job.MaxAttempts {
		at := c.opts.Backoff.NextEligibleAt(now(), job.Attempts)
		retryAt = &at
	}

	if err := c.store.Fail(ctx, job.ID, handlerErr.Error(), retryAt, now()); err != nil {
		logx.WithError(err).Errorf("jobx: failed to record failure of job %s", job.ID)
	}
}

func (c *Client) runHandler(ctx context.Context, handler HandlerFunc, job *Job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = jobxErrors.NewWithMessage(ErrStore, "handler panic").WithDetail("panic", r)
		}
	}()
	return handler(ctx, job)
}

func (c *Client) janitorLoop(ctx context.Context) {
	reclaim := time.NewTicker(c.opts.ReclaimInterval)
	prune := time.NewTicker(c.opts.PruneInterval)
	defer reclaim.Stop()
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaim.C:
			n, err := c.store.ReclaimExpired(ctx, time.Now().UTC())
			if err != nil {
				if ctx.Err() == nil {
					logx.WithError(err).Warn("jobx: lease reclaim failed")
				}
				continue
			}
			if n > 0 {
				logx.Warnf("jobx: reclaimed %d expired job leases", n)
			}
		case <-prune.C:
			cutoff := time.Now().UTC().Add(-c.opts.Retention)
			n, err := c.store.PruneFinished(ctx, cutoff)
			if err != nil {
				if ctx.Err() == nil {
					logx.WithError(err).Warn("jobx: prune failed")
				}
				continue
			}
			if n > 0 {
				logx.Infof("jobx: pruned %d finished jobs", n)
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
