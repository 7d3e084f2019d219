package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"video-autopost/internal/logging"
	"video-autopost/internal/video"
)

const (
	memWarnThresholdBytes  = 600 * 1024 * 1024
	goroutineWarnThreshold = 500
	// alerts of the same kind are not repeated within this window
	alertCooldown = 6 * time.Hour
)

// QueueMonitor watches the pending folder in daemon mode and warns the
// operator before the queue runs dry. It also reports heap and goroutine
// growth, which in a long running daemon usually means a leaked browser or
// tunnel process.
type QueueMonitor struct {
	svc      *Service
	log      *logging.Logger
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	lastQueueAlert time.Time
	lastMemAlert   time.Time
}

func NewQueueMonitor(svc *Service, log *logging.Logger) *QueueMonitor {
	interval := svc.cfg.MonitorInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &QueueMonitor{
		svc:      svc,
		log:      log,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins monitoring
func (m *QueueMonitor) Start(ctx context.Context) {
	m.log.Infof("queue monitor: started (every %s, low water %d)", m.interval, m.svc.cfg.LowWater)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.Check(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// Stop gracefully stops the monitor
func (m *QueueMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.log.Infof("queue monitor: stopped")
}

// Check runs one queue and memory check.
func (m *QueueMonitor) Check(ctx context.Context) {
	cfg := m.svc.cfg
	now := m.svc.now()

	n, err := video.CountPending(cfg.PendingDir, cfg.VideoExtensions)
	if err != nil {
		m.log.Errorf("queue monitor: %v", err)
	} else {
		m.log.Infof("queue monitor: %d pending videos", n)
		if n < cfg.LowWater && now.Sub(m.lastQueueAlert) > alertCooldown {
			m.lastQueueAlert = now
			msg := fmt.Sprintf("📭 Only %d videos left in %s (low water %d)", n, cfg.PendingDir, cfg.LowWater)
			m.log.Warnf("queue monitor: %s", msg)
			m.alert(ctx, msg)
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	heapMB := ms.HeapAlloc / (1024 * 1024)
	goroutines := runtime.NumGoroutine()
	if (ms.HeapAlloc > memWarnThresholdBytes || goroutines >= goroutineWarnThreshold) && now.Sub(m.lastMemAlert) > alertCooldown {
		m.lastMemAlert = now
		msg := fmt.Sprintf("⚠️ High resource usage: heap %d MB, goroutines %d", heapMB, goroutines)
		m.log.Warnf("queue monitor: %s", msg)
		m.alert(ctx, msg)
		runtime.GC()
	}
}

func (m *QueueMonitor) alert(ctx context.Context, msg string) {
	if m.svc.notifier == nil {
		return
	}
	m.svc.notifier.Notify(ctx, msg, false)
}
