// Package jobmgr runs named jobs with cancellation, status callbacks and
// in-memory tracking. A name can only run once at a time.
//
//	jm := jobmgr.NewManager(func(msg string) {
//	    log.Println("[DEBUG] job:", msg)
//	})
//
//	err := jm.Run(ctx, "sync", func(ctx context.Context) error {
//	    return nil
//	})
//	if errors.Is(err, jobmgr.ErrAlreadyRunning) {
//	    // another sync is still busy
//	}
package jobmgr

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned when a job with the same name is active.
var ErrAlreadyRunning = errors.New("already running")

// Job is a running unit of work.
type Job struct {
	Name    string
	Started time.Time
	Cancel  context.CancelFunc
}

// StatusReporter receives lifecycle events for jobs.
//
//	running:sync
//	error:sync:failed to connect
//	done:sync
type StatusReporter func(string)

// Manager tracks running jobs. It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	wg       sync.WaitGroup
	Reporter StatusReporter
}

// NewManager creates a Manager. The reporter may be nil.
func NewManager(reporter StatusReporter) *Manager {
	return &Manager{
		jobs:     make(map[string]*Job),
		Reporter: reporter,
	}
}

func (m *Manager) register(parent context.Context, name string) (context.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[name]; exists {
		return nil, fmt.Errorf("job '%s': %w", name, ErrAlreadyRunning)
	}
	ctx, cancel := context.WithCancel(parent)
	m.jobs[name] = &Job{Name: name, Started: time.Now(), Cancel: cancel}
	return ctx, nil
}

func (m *Manager) finish(name string, err error) {
	if err != nil {
		m.report("error:" + name + ":" + err.Error())
	} else {
		m.report("done:" + name)
	}

	m.mu.Lock()
	if job, ok := m.jobs[name]; ok {
		job.Cancel()
		delete(m.jobs, name)
	}
	m.mu.Unlock()
}

// Run executes the job in the calling goroutine. It fails with
// ErrAlreadyRunning when the name is taken.
func (m *Manager) Run(ctx context.Context, name string, runner func(ctx context.Context) error) error {
	jobCtx, err := m.register(ctx, name)
	if err != nil {
		return err
	}
	m.report("running:" + name)

	err = runner(jobCtx)
	m.finish(name, err)
	return err
}

// StartAsync runs the job in its own goroutine and returns immediately.
// The job is canceled together with ctx.
func (m *Manager) StartAsync(ctx context.Context, name string, runner func(ctx context.Context) error) error {
	jobCtx, err := m.register(ctx, name)
	if err != nil {
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.report("running:" + name)
		m.finish(name, runner(jobCtx))
	}()
	return nil
}

// Stop cancels a running job by name.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[name]
	if !ok {
		return fmt.Errorf("job '%s' not running", name)
	}
	job.Cancel()
	return nil
}

// Wait blocks until every job started with StartAsync has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// List returns the sorted names of active jobs.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.jobs))
	for k := range m.jobs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Status returns a human-readable summary of active jobs.
func (m *Manager) Status() string {
	active := m.List()
	if len(active) == 0 {
		return "No jobs are running."
	}
	return fmt.Sprintf("Running jobs: %s", strings.Join(active, ", "))
}

func (m *Manager) report(s string) {
	if m.Reporter != nil {
		m.Reporter(s)
	}
}
