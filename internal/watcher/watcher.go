package watcher

import (
	"context"
	"log"
	"time"
)

// RunFunc executes the full pipeline for a task and reports whether the run
// reached a passing gate. It matches controller.Controller's Run shape
// without importing it, keeping the watcher testable with plain functions.
type RunFunc func(ctx context.Context, taskID string) (succeeded bool, err error)

// Watcher polls a task source and triggers exactly one controller run per
// successfully completed task. Discovered tasks are processed one at a
// time; no two controller runs ever overlap.
type Watcher struct {
	source     Source
	processed  *ProcessedSet
	run        RunFunc
	interval   time.Duration
	maxRetries int // failed-run attempts per task per watcher process; 0 = unlimited

	attempts map[string]int
}

// New creates a Watcher. maxRetries caps how many times a failing task is
// retried within this watcher process; the processed set is the only state
// that survives restarts.
func New(source Source, processed *ProcessedSet, run RunFunc, interval time.Duration, maxRetries int) *Watcher {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Watcher{
		source:     source,
		processed:  processed,
		run:        run,
		interval:   interval,
		maxRetries: maxRetries,
		attempts:   make(map[string]int),
	}
}

// Run polls until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	tick := time.NewTicker(w.interval)
	defer tick.Stop()

	// First sweep immediately; operators should not wait a full interval
	// for requests that are already present.
	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep performs one poll cycle: discover, dedup, run sequentially.
// A task enters the processed set only on a successful run; a failed task
// is not recorded and is retried on later cycles until it succeeds, its
// request disappears, or it exhausts the retry cap.
func (w *Watcher) Sweep(ctx context.Context) {
	reqs, err := w.source.Discover()
	if err != nil {
		log.Printf("watcher: discover: %v", err)
		return
	}

	for _, req := range reqs {
		if ctx.Err() != nil {
			return
		}
		if w.processed.Contains(req.TaskID) {
			continue
		}
		if w.maxRetries > 0 && w.attempts[req.TaskID] >= w.maxRetries {
			continue
		}

		log.Printf("watcher: running task %q (%s)", req.TaskID, req.Path)
		ok, err := w.run(ctx, req.TaskID)
		if err != nil {
			log.Printf("watcher: task %q: %v", req.TaskID, err)
		}
		if ok {
			if err := w.processed.Add(req.TaskID); err != nil {
				// The run succeeded but the record didn't stick; the task
				// will be re-run next cycle, which is safe (idempotent).
				log.Printf("watcher: record processed %q: %v", req.TaskID, err)
			}
			delete(w.attempts, req.TaskID)
			continue
		}

		w.attempts[req.TaskID]++
		if w.maxRetries > 0 && w.attempts[req.TaskID] >= w.maxRetries {
			log.Printf("watcher: task %q failed %d times, giving up until restart", req.TaskID, w.attempts[req.TaskID])
		}
	}
}
