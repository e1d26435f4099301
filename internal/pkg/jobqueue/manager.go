package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Manager owns the queue lifecycle. It is constructed explicitly and
// injected where needed; there is no ambient global instance.
type Manager struct {
	queue       *Queue
	statsTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// NewManager wraps a queue with a start/stop lifecycle.
func NewManager(queue *Queue) *Manager {
	return &Manager{
		queue:  queue,
		stopCh: make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue workers and the periodic depth reporter.
func (m *Manager) Start(handler HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be
	// restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue")

	m.queue.Start(handler)

	m.statsTicker = time.NewTicker(time.Minute)
	m.wg.Add(1)
	go m.statsWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue...")

	if m.statsTicker != nil {
		m.statsTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// statsWorker periodically logs queue depth for observability.
func (m *Manager) statsWorker() {
	defer m.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Stats worker stopping")
			return
		case <-m.statsTicker.C:
			pending, err := m.queue.GetQueueSize(ctx)
			if err != nil {
				continue
			}
			processing, _ := m.queue.GetProcessingSize(ctx)
			if pending > 0 || processing > 0 {
				log.Infof("[JobQueue Manager] Queue depth: %d pending, %d processing", pending, processing)
			}
		}
	}
}
