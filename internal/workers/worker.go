// Package workers runs periodic housekeeping jobs next to the reminder loop.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Worker is a periodic job.
type Worker interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// WorkerManager runs every registered worker on its own ticker.
type WorkerManager struct {
	workers  []Worker
	timeout  time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
	log      *slog.Logger
}

func NewWorkerManager(log *slog.Logger) *WorkerManager {
	if log == nil {
		log = slog.Default()
	}
	return &WorkerManager{
		timeout:  10 * time.Minute,
		stopChan: make(chan struct{}),
		log:      log,
	}
}

func (wm *WorkerManager) RegisterWorker(w Worker) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wm.workers = append(wm.workers, w)
	wm.log.Info("✅ worker registered", "worker", w.Name(), "interval", w.Interval())
}

// Start launches every registered worker. Each one runs immediately and then
// on its interval until ctx is done or Stop is called.
func (wm *WorkerManager) Start(ctx context.Context) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wm.log.Info("🚀 starting workers", "count", len(wm.workers))
	for _, w := range wm.workers {
		wm.wg.Add(1)
		go wm.runWorker(ctx, w)
	}
}

func (wm *WorkerManager) runWorker(ctx context.Context, w Worker) {
	defer wm.wg.Done()

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	wm.executeWorker(ctx, w)

	for {
		select {
		case <-ticker.C:
			wm.executeWorker(ctx, w)
		case <-ctx.Done():
			wm.log.Info("🛑 worker stopped", "worker", w.Name())
			return
		case <-wm.stopChan:
			wm.log.Info("🛑 worker stopped", "worker", w.Name())
			return
		}
	}
}

func (wm *WorkerManager) executeWorker(ctx context.Context, w Worker) {
	ctx, cancel := context.WithTimeout(ctx, wm.timeout)
	defer cancel()

	start := time.Now()
	if err := w.Run(ctx); err != nil {
		wm.log.Error("❌ worker failed", "worker", w.Name(), "err", err)
		return
	}
	wm.log.Debug("✅ worker run finished", "worker", w.Name(), "duration", time.Since(start))
}

// Stop halts all workers and waits for in-flight runs.
func (wm *WorkerManager) Stop() {
	wm.stopOnce.Do(func() { close(wm.stopChan) })
	wm.wg.Wait()
	wm.log.Info("✅ all workers stopped")
}

type WorkerStats struct {
	TotalWorkers int      `json:"total_workers"`
	WorkerNames  []string `json:"worker_names"`
}

func (wm *WorkerManager) GetStats() WorkerStats {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	names := make([]string, len(wm.workers))
	for i, w := range wm.workers {
		names[i] = w.Name()
	}
	return WorkerStats{
		TotalWorkers: len(wm.workers),
		WorkerNames:  names,
	}
}
