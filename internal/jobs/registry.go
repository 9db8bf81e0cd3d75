// Package jobs holds the authoritative in-memory state for every dubbing job.
// Records live for the process lifetime; nothing is persisted.
package jobs

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"autodubber/internal/domain"
)

// Registry maps job identifiers to job records. It is the only shared job
// state in the process; all mutation goes through Update. The registry
// performs no validation - invariants are enforced by callers.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]domain.Job
	running map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:    make(map[string]domain.Job),
		running: make(map[string]bool),
	}
}

// Create stores a new job record and returns its identifier, generating one
// when the record carries none.
func (r *Registry) Create(job domain.Job) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	r.jobs[job.ID] = job
	return job.ID
}

// Get returns a snapshot of one job.
func (r *Registry) Get(id string) (domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, &domain.NotFoundError{Resource: "job", ID: id}
	}
	return job, nil
}

// List returns snapshots of all jobs ordered by creation time.
func (r *Registry) List() []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update merges the fields present in patch into the stored record and
// returns the full merged record for broadcasting.
func (r *Registry) Update(id string, patch domain.Patch) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, &domain.NotFoundError{Resource: "job", ID: id}
	}

	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if patch.Progress != nil {
		job.Progress = *patch.Progress
	}
	if patch.Activity != nil {
		job.Activity = *patch.Activity
	}
	if patch.Error != nil {
		job.Error = *patch.Error
	}
	if patch.FinishedAt != nil {
		job.FinishedAt = patch.FinishedAt
	}
	if patch.VideoPath != nil {
		job.VideoPath = *patch.VideoPath
	}
	if patch.AudioPath != nil {
		job.AudioPath = *patch.AudioPath
	}
	if patch.SubtitlePath != nil {
		job.SubtitlePath = *patch.SubtitlePath
	}
	if patch.Transcription != nil {
		job.Transcription = patch.Transcription
	}
	if patch.SpeedFactor != nil {
		job.SpeedFactor = *patch.SpeedFactor
	}

	r.jobs[id] = job
	return job, nil
}

// TryAcquireRun marks a job as having an active pipeline run. It returns
// false when a run is already advancing the job's stages.
func (r *Registry) TryAcquireRun(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running[id] {
		return false
	}
	r.running[id] = true
	return true
}

// ReleaseRun clears the active-run mark for a job.
func (r *Registry) ReleaseRun(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, id)
}
