package delivery

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// Sender is the narrow boundary to the device-automation channel. The core
// never assumes anything about how the send physically happens.
type Sender interface {
	// Send publishes text into the chat. Blocking; returns an error the
	// worker treats as retryable.
	Send(ctx context.Context, text string) error
	// Ready reports whether the channel can currently accept sends.
	Ready() bool
}

// WorkerConfig tunes the delivery worker.
type WorkerConfig struct {
	// MinSpacing is the fixed minimum interval between consecutive sends.
	MinSpacing time.Duration
	// JitterMin/JitterMax add a random extra delay before each send so
	// bursts don't look robotic. Disabled when JitterMax <= 0.
	JitterMin time.Duration
	JitterMax time.Duration
	// MaxAttempts bounds sends per message before it is dropped (default 3).
	MaxAttempts int
	// RetryBackoff is the delay after the first failed attempt, doubling
	// per retry (default 1s).
	RetryBackoff time.Duration
}

// Worker drains a Queue through a Sender, one message at a time.
type Worker struct {
	q   *Queue
	s   Sender
	cfg WorkerConfig

	mu       sync.Mutex
	lastSend time.Time
	paused   bool

	// observability hooks; nil-safe
	onSent    func(Message)
	onDropped func(Message, error)
	onRetry   func(Message, error)

	sleep   func(ctx context.Context, d time.Duration) bool
	randDur func(min, max time.Duration) time.Duration
}

// NewWorker builds a worker for q and s.
func NewWorker(q *Queue, s Sender, cfg WorkerConfig) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Worker{q: q, s: s, cfg: cfg, sleep: sleepCtx, randDur: randBetween}
}

// OnSent registers a callback invoked after each successful send.
func (w *Worker) OnSent(fn func(Message)) { w.onSent = fn }

// OnDropped registers a callback invoked when a message exhausts its
// retries and is dropped.
func (w *Worker) OnDropped(fn func(Message, error)) { w.onDropped = fn }

// OnRetry registers a callback invoked on each failed attempt that will be
// retried.
func (w *Worker) OnRetry(fn func(Message, error)) { w.onRetry = fn }

// SetPaused toggles auto-send. While paused, queued messages stay queued;
// priority (manual) messages are still delivered.
func (w *Worker) SetPaused(p bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = p
}

// Paused reports the auto-send toggle.
func (w *Worker) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Run drains the queue until ctx is canceled and the queue is closed. A
// failed message never blocks the ones behind it for longer than its own
// bounded retries.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("delivery worker starting",
		slog.Duration("min_spacing", w.cfg.MinSpacing),
		slog.Int("max_attempts", w.cfg.MaxAttempts))
	for {
		msg, ok := w.q.Dequeue(ctx.Done())
		if !ok {
			slog.Info("delivery worker stopped")
			return
		}
		if w.Paused() && !msg.Priority {
			// Auto-send off: drop background traffic, keep manual sends.
			slog.Debug("auto-send paused; discarding queued reply", slog.String("source_event", msg.SourceEventID))
			continue
		}
		if !w.waitSpacing(ctx) {
			return
		}
		w.deliver(ctx, msg)
	}
}

// waitSpacing sleeps out the remaining inter-send interval plus jitter.
func (w *Worker) waitSpacing(ctx context.Context) bool {
	w.mu.Lock()
	last := w.lastSend
	w.mu.Unlock()
	var wait time.Duration
	if !last.IsZero() {
		if since := time.Since(last); since < w.cfg.MinSpacing {
			wait = w.cfg.MinSpacing - since
		}
	}
	if w.cfg.JitterMax > 0 {
		wait += w.randDur(w.cfg.JitterMin, w.cfg.JitterMax)
	}
	if wait <= 0 {
		return true
	}
	return w.sleep(ctx, wait)
}

func (w *Worker) deliver(ctx context.Context, msg Message) {
	backoff := w.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		if err := w.s.Send(ctx, msg.Text); err != nil {
			lastErr = err
			slog.Warn("send failed",
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", w.cfg.MaxAttempts),
				slog.Any("err", err))
			if attempt < w.cfg.MaxAttempts {
				if w.onRetry != nil {
					w.onRetry(msg, err)
				}
				if !w.sleep(ctx, backoff) {
					return
				}
				backoff *= 2
			}
			continue
		}
		w.mu.Lock()
		w.lastSend = time.Now()
		w.mu.Unlock()
		if w.onSent != nil {
			w.onSent(msg)
		}
		return
	}
	// Retries exhausted: count it and move on. Delivery failure must never
	// wedge the queue.
	slog.Error("message dropped after retries",
		slog.Int("attempts", w.cfg.MaxAttempts),
		slog.String("source_event", msg.SourceEventID),
		slog.Any("err", lastErr))
	if w.onDropped != nil {
		w.onDropped(msg, lastErr)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func randBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
