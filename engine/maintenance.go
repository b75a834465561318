package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MaintenanceStatus describes the lifecycle of a background maintenance run
type MaintenanceStatus string

const (
	MaintenanceRunning   MaintenanceStatus = "running"
	MaintenanceCompleted MaintenanceStatus = "completed"
	MaintenanceFailed    MaintenanceStatus = "failed"
)

// MaintenanceProcess is the observable state of one maintenance run, such as
// a fleet-wide key rotation
type MaintenanceProcess struct {
	ID        string
	Status    MaintenanceStatus
	StartTime time.Time
	Progress  float64
	Err       error

	cancel context.CancelFunc
}

// maintenanceTracker owns background maintenance runs: one active run per
// process id, cancellable, with progress visible to callers
type maintenanceTracker struct {
	mu        sync.RWMutex
	processes map[string]*MaintenanceProcess
	wg        sync.WaitGroup
	stopped   bool
}

func newMaintenanceTracker() *maintenanceTracker {
	return &maintenanceTracker{
		processes: make(map[string]*MaintenanceProcess),
	}
}

// start launches fn in the background under the given process id. A process
// id already running is an error; completed runs are replaced.
func (t *maintenanceTracker) start(ctx context.Context, id string, fn func(ctx context.Context, report func(float64)) error) (*MaintenanceProcess, error) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil, fmt.Errorf("engine is shutting down")
	}
	if existing, ok := t.processes[id]; ok && existing.Status == MaintenanceRunning {
		t.mu.Unlock()
		return nil, fmt.Errorf("maintenance process %s is already running", id)
	}

	procCtx, cancel := context.WithCancel(ctx)
	process := &MaintenanceProcess{
		ID:        id,
		Status:    MaintenanceRunning,
		StartTime: time.Now().UTC(),
		cancel:    cancel,
	}
	t.processes[id] = process
	t.wg.Add(1)
	t.mu.Unlock()

	report := func(progress float64) {
		t.mu.Lock()
		process.Progress = progress
		t.mu.Unlock()
	}

	go func() {
		defer t.wg.Done()
		defer cancel()

		err := fn(procCtx, report)

		t.mu.Lock()
		if err != nil {
			process.Status = MaintenanceFailed
			process.Err = err
		} else {
			process.Status = MaintenanceCompleted
			process.Progress = 1
		}
		t.mu.Unlock()
	}()

	return t.snapshot(id), nil
}

// get returns a copy of the process state
func (t *maintenanceTracker) get(id string) (*MaintenanceProcess, bool) {
	p := t.snapshot(id)
	return p, p != nil
}

// snapshot copies process state under the lock so callers never observe a
// torn update
func (t *maintenanceTracker) snapshot(id string) *MaintenanceProcess {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.processes[id]
	if !ok {
		return nil
	}
	return &MaintenanceProcess{
		ID:        p.ID,
		Status:    p.Status,
		StartTime: p.StartTime,
		Progress:  p.Progress,
		Err:       p.Err,
	}
}

// shutdown cancels every running process and waits for them to stop
func (t *maintenanceTracker) shutdown() {
	t.mu.Lock()
	t.stopped = true
	for _, p := range t.processes {
		if p.Status == MaintenanceRunning {
			p.cancel()
		}
	}
	t.mu.Unlock()

	t.wg.Wait()
}
