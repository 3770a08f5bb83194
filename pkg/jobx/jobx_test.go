package jobx_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Abraxas-365/recibo/pkg/errx"
	"github.com/Abraxas-365/recibo/pkg/jobx"
	"github.com/Abraxas-365/recibo/pkg/jobx/jobxmem"
	"github.com/Abraxas-365/recibo/pkg/retryx"
)

func fastOptions() []jobx.WorkerOption {
	return []jobx.WorkerOption{
		jobx.WithConcurrency(2),
		jobx.WithPollInterval(2 * time.Millisecond),
		jobx.WithBackoff(retryx.Policy{RetryDelay: time.Millisecond, BackoffMultiplier: 1, MaxDelay: time.Millisecond}),
	}
}

func ocrPayload() jobx.OCRPayload {
	return jobx.OCRPayload{ReceiptID: "r-1", TenantID: "t-1", FileKey: "receipts/r-1.jpg"}
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestEnqueue_ValidatesPayload(t *testing.T) {
	client := jobx.NewClient(jobxmem.NewMemoryStore())

	_, err := client.Enqueue(context.Background(), jobx.OCRPayload{ReceiptID: "r-1"})
	if err == nil {
		t.Fatal("expected validation error for incomplete payload")
	}
}

func TestEnqueue_AppliesQueueDefaults(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store)
	ctx := context.Background()

	id, err := client.Enqueue(ctx, jobx.EmailPayload{MessageID: "m-1", TenantID: "t-1", From: "a@b.co"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := client.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.MaxAttempts != 5 {
		t.Fatalf("email queue default max attempts: got %d, want 5", job.MaxAttempts)
	}
	if job.State != jobx.StateWaiting {
		t.Fatalf("new job state: got %s", job.State)
	}
}

func TestStart_RequiresHandlers(t *testing.T) {
	client := jobx.NewClient(jobxmem.NewMemoryStore())

	err := client.Start(context.Background())
	if !errx.HasCode(err, jobx.ErrNoHandler) {
		t.Fatalf("start without handlers: got %v, want no-handler error", err)
	}
}

func TestWorker_FailsTwiceThenSucceeds(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store, fastOptions()...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	client.Register(jobx.QueueOCR, func(ctx context.Context, job *jobx.Job) (json.RawMessage, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("ocr provider timeout")
		}
		return json.RawMessage(`{"text":"TOTAL 12.50"}`), nil
	})

	id, err := client.Enqueue(ctx, ocrPayload())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	go client.Start(ctx)

	waitFor(t, func() bool {
		job, err := client.GetJob(context.Background(), id)
		return err == nil && job.State == jobx.StateCompleted
	})

	job, _ := client.GetJob(context.Background(), id)
	if job.Attempts != 3 {
		t.Fatalf("attempts: got %d, want 3", job.Attempts)
	}
	if len(job.Result) == 0 {
		t.Fatal("expected result to be recorded")
	}
	if job.FinishedAt == nil {
		t.Fatal("expected finished_at to be set")
	}
}

func TestWorker_ExhaustsAttempts(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store, fastOptions()...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.Register(jobx.QueueOCR, func(ctx context.Context, job *jobx.Job) (json.RawMessage, error) {
		return nil, errors.New("always fails")
	})

	id, err := client.Enqueue(ctx, ocrPayload(), jobx.WithMaxAttempts(1))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	go client.Start(ctx)

	waitFor(t, func() bool {
		job, err := client.GetJob(context.Background(), id)
		return err == nil && job.State == jobx.StateFailed
	})

	job, _ := client.GetJob(context.Background(), id)
	if job.Attempts != 1 {
		t.Fatalf("attempts: got %d, want exactly 1", job.Attempts)
	}
	if job.Attempts > job.MaxAttempts {
		t.Fatalf("attempts %d exceeded max %d", job.Attempts, job.MaxAttempts)
	}
	if job.FailureReason != "always fails" {
		t.Fatalf("failure reason: got %q", job.FailureReason)
	}
}

func TestWorker_PermanentErrorSkipsRetry(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store, fastOptions()...)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	client.Register(jobx.QueueOCR, func(ctx context.Context, job *jobx.Job) (json.RawMessage, error) {
		calls++
		return nil, jobx.Permanent(errors.New("corrupt file"))
	})

	id, err := client.Enqueue(ctx, ocrPayload(), jobx.WithMaxAttempts(5))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	go client.Start(ctx)

	waitFor(t, func() bool {
		job, err := client.GetJob(context.Background(), id)
		return err == nil && job.State == jobx.StateFailed
	})

	if calls != 1 {
		t.Fatalf("permanent failure should not be retried, handler ran %d times", calls)
	}
}

func TestClaim_ConcurrentClaimsSingleWinner(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store)
	ctx := context.Background()

	if _, err := client.Enqueue(ctx, ocrPayload()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	type outcome struct {
		job *jobx.Job
		err error
	}
	results := make(chan outcome, 2)
	now := time.Now().UTC()
	for range 2 {
		go func() {
			job, err := store.Claim(ctx, jobx.QueueOCR, now, time.Minute)
			results <- outcome{job, err}
		}()
	}

	claimed := 0
	for range 2 {
		r := <-results
		if r.err != nil {
			t.Fatalf("claim error: %v", r.err)
		}
		if r.job != nil {
			claimed++
		}
	}
	if claimed != 1 {
		t.Fatalf("exactly one claim must win, got %d", claimed)
	}
}

func TestClaim_PriorityThenFIFO(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store)
	ctx := context.Background()

	low, _ := client.Enqueue(ctx, jobx.OCRPayload{ReceiptID: "low", TenantID: "t", FileKey: "k"})
	time.Sleep(time.Millisecond)
	high, _ := client.Enqueue(ctx, jobx.OCRPayload{ReceiptID: "high", TenantID: "t", FileKey: "k"}, jobx.WithPriority(10))

	now := time.Now().UTC()
	first, err := store.Claim(ctx, jobx.QueueOCR, now, time.Minute)
	if err != nil || first == nil {
		t.Fatalf("claim 1: job=%v err=%v", first, err)
	}
	if first.ID != high {
		t.Fatalf("higher priority should claim first; got %s", first.ID)
	}

	second, err := store.Claim(ctx, jobx.QueueOCR, now, time.Minute)
	if err != nil || second == nil {
		t.Fatalf("claim 2: job=%v err=%v", second, err)
	}
	if second.ID != low {
		t.Fatalf("expected FIFO fallback to %s, got %s", low, second.ID)
	}
}

func TestStats_CountsPerState(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 5 {
		_, err := client.Enqueue(ctx, jobx.OCRPayload{
			ReceiptID: "r", TenantID: "t", FileKey: string(rune('a' + i)),
		})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	// Complete two.
	for range 2 {
		job, _ := store.Claim(ctx, jobx.QueueOCR, now, time.Minute)
		if err := store.Complete(ctx, job.ID, nil, now); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	// Exhaust one.
	job, _ := store.Claim(ctx, jobx.QueueOCR, now, time.Minute)
	if err := store.Fail(ctx, job.ID, "boom", nil, now); err != nil {
		t.Fatalf("fail: %v", err)
	}

	stats, err := client.Stats(ctx, jobx.QueueOCR)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := jobx.Stats{Queue: jobx.QueueOCR, Waiting: 2, Active: 0, Completed: 2, Failed: 1}
	if stats != want {
		t.Fatalf("stats: got %+v, want %+v", stats, want)
	}
}

func TestRetry_OnlyFailedJobs(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store)
	ctx := context.Background()

	id, _ := client.Enqueue(ctx, ocrPayload())

	err := client.Retry(ctx, id)
	if err == nil {
		t.Fatal("retry on a waiting job must be rejected")
	}

	now := time.Now().UTC()
	job, _ := store.Claim(ctx, jobx.QueueOCR, now, time.Minute)
	if err := store.Fail(ctx, job.ID, "dead", nil, now); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := client.Retry(ctx, id); err != nil {
		t.Fatalf("retry on failed job: %v", err)
	}

	fresh, _ := client.GetJob(ctx, id)
	if fresh.State != jobx.StateWaiting {
		t.Fatalf("after manual retry: got %s, want waiting", fresh.State)
	}
	if fresh.Attempts != 1 {
		t.Fatalf("manual retry must keep the attempt counter, got %d", fresh.Attempts)
	}
}

func TestRetry_ResetAttemptsOption(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store, jobx.WithResetAttemptsOnManualRetry())
	ctx := context.Background()
	now := time.Now().UTC()

	id, _ := client.Enqueue(ctx, ocrPayload(), jobx.WithMaxAttempts(1))
	job, _ := store.Claim(ctx, jobx.QueueOCR, now, time.Minute)
	store.Fail(ctx, job.ID, "dead", nil, now)

	if err := client.Retry(ctx, id); err != nil {
		t.Fatalf("retry: %v", err)
	}
	fresh, _ := client.GetJob(ctx, id)
	if fresh.Attempts != 0 {
		t.Fatalf("expected attempt counter reset, got %d", fresh.Attempts)
	}
}

func TestReclaimExpired_RecoversStrandedJobs(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store)
	ctx := context.Background()
	now := time.Now().UTC()

	id, _ := client.Enqueue(ctx, ocrPayload())
	if _, err := store.Claim(ctx, jobx.QueueOCR, now, 50*time.Millisecond); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Before the lease expires nothing is reclaimed.
	n, err := store.ReclaimExpired(ctx, now)
	if err != nil || n != 0 {
		t.Fatalf("early reclaim: n=%d err=%v", n, err)
	}

	n, err = store.ReclaimExpired(ctx, now.Add(time.Second))
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", n)
	}

	job, _ := client.GetJob(ctx, id)
	if job.State != jobx.StateWaiting {
		t.Fatalf("reclaimed job state: got %s, want waiting", job.State)
	}
}

func TestReclaimExpired_DeadLettersExhaustedJobs(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store)
	ctx := context.Background()
	now := time.Now().UTC()

	// The claim consumes the single attempt; the worker then dies without
	// reporting an outcome.
	id, _ := client.Enqueue(ctx, ocrPayload(), jobx.WithMaxAttempts(1))
	if _, err := store.Claim(ctx, jobx.QueueOCR, now, 50*time.Millisecond); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := store.ReclaimExpired(ctx, now.Add(time.Second))
	if err != nil || n != 1 {
		t.Fatalf("reclaim: n=%d err=%v", n, err)
	}

	job, _ := client.GetJob(ctx, id)
	if job.State != jobx.StateFailed {
		t.Fatalf("exhausted job state: got %s, want failed", job.State)
	}
	if job.Attempts != job.MaxAttempts {
		t.Fatalf("attempts %d must not exceed max %d", job.Attempts, job.MaxAttempts)
	}
	if job.FailureReason != jobx.LeaseExpiredReason {
		t.Fatalf("failure reason: got %q", job.FailureReason)
	}

	claimed, err := store.Claim(ctx, jobx.QueueOCR, now.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("claim after reclaim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("dead-lettered job must not be claimable, got attempts=%d", claimed.Attempts)
	}
}

func TestPruneFinished_KeepsAggregateCounts(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store)
	ctx := context.Background()
	now := time.Now().UTC()

	id, _ := client.Enqueue(ctx, ocrPayload())
	job, _ := store.Claim(ctx, jobx.QueueOCR, now, time.Minute)
	store.Complete(ctx, job.ID, nil, now)

	n, err := store.PruneFinished(ctx, now.Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("prune: n=%d err=%v", n, err)
	}

	if _, err := client.GetJob(ctx, id); err == nil {
		t.Fatal("pruned job should be gone")
	}

	stats, _ := client.Stats(ctx, jobx.QueueOCR)
	if stats.Completed != 1 {
		t.Fatalf("pruned outcome must remain in stats, got %+v", stats)
	}
}

func TestFailedJob_NeverClaimed(t *testing.T) {
	store := jobxmem.NewMemoryStore()
	client := jobx.NewClient(store)
	ctx := context.Background()
	now := time.Now().UTC()

	client.Enqueue(ctx, ocrPayload(), jobx.WithMaxAttempts(1))
	job, _ := store.Claim(ctx, jobx.QueueOCR, now, time.Minute)
	store.Fail(ctx, job.ID, "dead", nil, now)

	claimed, err := store.Claim(ctx, jobx.QueueOCR, now.Add(time.Hour), time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("failed job must not be claimable, got %s", claimed.ID)
	}
}
