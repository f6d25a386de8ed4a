package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/face-scan/internal/constants"
	"github.com/kozaktomas/face-scan/internal/worker"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ScanJob represents an async pooled scan of one candidate set.
type ScanJob struct {
	EventBroadcaster

	ID          string
	Set         string
	Status      JobStatus
	Workers     int
	TotalItems  int
	Resolved    int
	Matched     *worker.Matched
	Partitions  []worker.Event
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// ScanJobView is the JSON representation of a scan job.
type ScanJobView struct {
	ID          string          `json:"id"`
	Set         string          `json:"set"`
	Status      JobStatus       `json:"status"`
	Workers     int             `json:"workers"`
	TotalItems  int             `json:"total_items"`
	Resolved    int             `json:"resolved"`
	Matched     *worker.Matched `json:"matched"`
	Partitions  []worker.Event  `json:"partitions,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *ScanJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// View returns a consistent copy of the job fields.
func (j *ScanJob) View() ScanJobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return ScanJobView{
		ID:          j.ID,
		Set:         j.Set,
		Status:      j.Status,
		Workers:     j.Workers,
		TotalItems:  j.TotalItems,
		Resolved:    j.Resolved,
		Matched:     j.Matched,
		Partitions:  j.Partitions,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// Cancel stops the scan. The job turns cancelled once the workers report done.
func (j *ScanJob) Cancel() {
	j.EventBroadcaster.Cancel()
}

func (j *ScanJob) setRunning(cancel context.CancelFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cancel = cancel
	j.Status = JobStatusRunning
	if j.cancelled {
		// cancelled while still pending
		cancel()
	}
}

func (j *ScanJob) addResolved() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Resolved++
}

func (j *ScanJob) finish(status JobStatus, out worker.Outcome, errMsg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	j.Status = status
	j.Matched = out.Matched
	j.Partitions = out.Partitions
	j.Error = errMsg
	j.CompletedAt = &now
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	cancelled bool
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a stopping event.
func (b *EventBroadcaster) Cancel() {
	b.mu.Lock()
	b.cancelled = true
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.SendEvent(JobEvent{Type: "stopping", Message: "Scan stop requested"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages async scan jobs.
type JobManager struct {
	jobs map[string]*ScanJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*ScanJob),
	}
}

// CreateJob creates a new pending scan job.
func (m *JobManager) CreateJob(id, set string, workers, items int) *ScanJob {
	job := &ScanJob{
		ID:         id,
		Set:        set,
		Status:     JobStatusPending,
		Workers:    workers,
		TotalItems: items,
		StartedAt:  time.Now(),
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *ScanJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []*ScanJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*ScanJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// Prune removes finished jobs that completed before cutoff and returns how many
// were removed.
func (m *JobManager) Prune(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, job := range m.jobs {
		view := job.View()
		if view.CompletedAt != nil && view.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}

// CancelAll stops every running job and returns how many were signalled.
func (m *JobManager) CancelAll() int {
	n := 0
	for _, job := range m.ListJobs() {
		if !isJobTerminal(job.GetStatus()) {
			job.Cancel()
			n++
		}
	}
	return n
}
