package state

import (
	"sort"
	"sync"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
)

// Registry tracks jobs submitted to the local spooler that have not reached
// a terminal state yet.
type Registry struct {
	mu   sync.Mutex
	jobs map[int64]model.InFlightJob
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[int64]model.InFlightJob)}
}

// Insert adds job unless an entry with the same id exists. Reports whether
// the job was added.
func (r *Registry) Insert(job model.InFlightJob) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.JobID]; exists {
		return false
	}
	r.jobs[job.JobID] = job
	return true
}

func (r *Registry) Contains(jobID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[jobID]
	return ok
}

func (r *Registry) Get(jobID int64) (model.InFlightJob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	return job, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Snapshot returns a copy of all entries ordered by job id.
func (r *Registry) Snapshot() []model.InFlightJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.InFlightJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// SetStatus records the last status reported upstream for jobID. A
// transition the status model forbids is ignored.
func (r *Registry) SetStatus(jobID int64, status model.JobStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok || !job.LastReportedStatus.CanTransition(status) {
		return false
	}
	job.LastReportedStatus = status
	r.jobs[jobID] = job
	return true
}

// Remove drops the given ids and returns how many were present.
func (r *Registry) Remove(jobIDs ...int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, id := range jobIDs {
		if _, ok := r.jobs[id]; ok {
			delete(r.jobs, id)
			removed++
		}
	}
	return removed
}
