// Package ledger tracks every background job the current session has
// started or observed. It is the single source of truth for job state:
// the push channel, the lifecycle client and the reconciliation poller
// all write into it, and UI consumers only ever read from it.
package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/teamdock/portal/internal/model"
)

const (
	// terminalGrace is how long a completed/failed record is kept so that
	// toasts and deferred redirects can still observe it.
	terminalGrace = 30 * time.Second

	cleanupInterval = 10 * time.Second
)

// TaskMeta is the entity context a caller already knows when it starts a job.
type TaskMeta struct {
	Action        model.Action
	EntityKind    model.EntityKind
	EntityID      string
	EntitySlug    string
	SubEntityID   string
	SubEntitySlug string
}

// Progress carries a partial update for a running job. Zero-valued fields
// are left untouched; Percentage is a pointer so an explicit zero can be
// applied. Meta, when set, fills in entity context for records synthesized
// from an update that arrived before its start.
type Progress struct {
	Step       int
	TotalSteps int
	StepName   string
	Percentage *int
	Meta       *TaskMeta
}

// Listener receives a snapshot of a job record.
type Listener func(job model.Job)

type entry struct {
	job model.Job
	seq uint64 // insertion order, breaks StartedAt ties on slug lookup
}

// Ledger is an in-memory table of job records keyed by job id.
// Instances are independent; create one per session.
type Ledger struct {
	mu      sync.RWMutex
	jobs    map[string]*entry
	seq     uint64
	now     func() time.Time
	nextSub int

	changeSubs   map[int]func()
	terminalSubs map[string]map[int]Listener
	actionSubs   map[model.Action]map[int]Listener
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		jobs:         make(map[string]*entry),
		now:          time.Now,
		changeSubs:   make(map[int]func()),
		terminalSubs: make(map[string]map[int]Listener),
		actionSubs:   make(map[model.Action]map[int]Listener),
	}
}

// Start inserts a pending record for jobID. Calling it twice for the same id
// never produces two records: the last call's metadata wins, but a status
// already past pending is not regressed.
func (l *Ledger) Start(jobID string, meta TaskMeta) {
	if jobID == "" {
		return
	}
	l.mu.Lock()
	e, ok := l.jobs[jobID]
	if !ok {
		l.seq++
		e = &entry{seq: l.seq, job: model.Job{
			ID:        jobID,
			Status:    model.JobStatusPending,
			StartedAt: l.now(),
		}}
		l.jobs[jobID] = e
	}
	e.job.Action = meta.Action
	e.job.EntityKind = meta.EntityKind
	e.job.EntityID = meta.EntityID
	e.job.EntitySlug = meta.EntitySlug
	e.job.SubEntityID = meta.SubEntityID
	e.job.SubEntitySlug = meta.SubEntitySlug
	e.job.UpdatedAt = l.now()
	l.mu.Unlock()
	l.notifyChange()
}

// UpdateProgress merges the partial fields into the record for jobID and
// forces its status to in_progress unless it is already terminal. An update
// for an unknown id synthesizes a minimal in_progress record, so a missed
// start frame never loses the job.
func (l *Ledger) UpdateProgress(jobID string, p Progress) {
	if jobID == "" {
		return
	}
	l.mu.Lock()
	e, ok := l.jobs[jobID]
	if !ok {
		l.seq++
		e = &entry{seq: l.seq, job: model.Job{
			ID:        jobID,
			Status:    model.JobStatusInProgress,
			StartedAt: l.now(),
		}}
		l.jobs[jobID] = e
	}
	if e.job.Status.Terminal() {
		l.mu.Unlock()
		return
	}
	e.job.Status = model.JobStatusInProgress
	if p.Step != 0 {
		e.job.Step = p.Step
	}
	if p.TotalSteps != 0 {
		e.job.TotalSteps = p.TotalSteps
	}
	if p.StepName != "" {
		e.job.StepName = p.StepName
	}
	if p.Percentage != nil {
		// percentage is authoritative when present, even against step/total
		e.job.Percentage = *p.Percentage
	} else if p.Step != 0 && p.TotalSteps > 0 {
		e.job.Percentage = p.Step * 100 / p.TotalSteps
	}
	if p.Meta != nil {
		if e.job.Action == "" {
			e.job.Action = p.Meta.Action
		}
		if e.job.EntityKind == "" {
			e.job.EntityKind = p.Meta.EntityKind
		}
		if e.job.EntitySlug == "" {
			e.job.EntitySlug = p.Meta.EntitySlug
		}
		if e.job.SubEntitySlug == "" {
			e.job.SubEntitySlug = p.Meta.SubEntitySlug
		}
	}
	e.job.UpdatedAt = l.now()
	l.mu.Unlock()
	l.notifyChange()
}

// Complete marks jobID completed and freezes its percentage at 100.
// Unknown ids are ignored; a job is never resurrected by a late frame.
func (l *Ledger) Complete(jobID string, result json.RawMessage) {
	l.finish(jobID, model.JobStatusCompleted, result, "")
}

// Fail marks jobID failed with a human-readable message. Percentage is left
// where it was. Unknown ids are ignored.
func (l *Ledger) Fail(jobID string, errMsg string) {
	l.finish(jobID, model.JobStatusFailed, nil, errMsg)
}

func (l *Ledger) finish(jobID string, status model.JobStatus, result json.RawMessage, errMsg string) {
	l.mu.Lock()
	e, ok := l.jobs[jobID]
	if !ok || e.job.Status.Terminal() {
		l.mu.Unlock()
		return
	}
	e.job.Status = status
	if status == model.JobStatusCompleted {
		e.job.Percentage = 100
		e.job.Result = result
	} else {
		e.job.Error = errMsg
	}
	e.job.UpdatedAt = l.now()
	snapshot := e.job
	terminal := l.terminalSubs[jobID]
	delete(l.terminalSubs, jobID)
	var actions []Listener
	for _, fn := range l.actionSubs[snapshot.Action] {
		actions = append(actions, fn)
	}
	l.mu.Unlock()

	for _, fn := range terminal {
		fn(snapshot)
	}
	for _, fn := range actions {
		fn(snapshot)
	}
	l.notifyChange()
}

// ByID returns a snapshot of the record for jobID.
func (l *Ledger) ByID(jobID string) (model.Job, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.jobs[jobID]
	if !ok {
		return model.Job{}, false
	}
	return e.job, true
}

// ByEntitySlug returns the single active (pending or in_progress) job
// concerning the given workspace or sandbox slug. When several match, the
// most recently started one wins, since slugs can be reused after deletion.
func (l *Ledger) ByEntitySlug(slug string) (model.Job, bool) {
	if slug == "" {
		return model.Job{}, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	var best *entry
	for _, e := range l.jobs {
		if e.job.Status.Terminal() {
			continue
		}
		if e.job.EntitySlug != slug && e.job.SubEntitySlug != slug {
			continue
		}
		if best == nil || e.seq > best.seq {
			best = e
		}
	}
	if best == nil {
		return model.Job{}, false
	}
	return best.job, true
}

// Active returns snapshots of all non-terminal jobs, for a global indicator.
func (l *Ledger) Active() []model.Job {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Job
	for _, e := range l.jobs {
		if !e.job.Status.Terminal() {
			out = append(out, e.job)
		}
	}
	return out
}

// Cleanup evicts terminal records whose last mutation is older than the
// grace window. Non-terminal records are never evicted, regardless of age.
func (l *Ledger) Cleanup() {
	cutoff := l.now().Add(-terminalGrace)
	l.mu.Lock()
	for id, e := range l.jobs {
		if e.job.Status.Terminal() && e.job.UpdatedAt.Before(cutoff) {
			delete(l.jobs, id)
		}
	}
	l.mu.Unlock()
}

// Run calls Cleanup on a fixed interval until ctx is done.
func (l *Ledger) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}

// OnChange registers fn to run after any ledger mutation. The returned
// function unregisters it.
func (l *Ledger) OnChange(fn func()) (unregister func()) {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.changeSubs[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.changeSubs, id)
		l.mu.Unlock()
	}
}

// OnTerminal registers fn to run once when jobID reaches completed or
// failed. The registration is consumed when it fires. The returned function
// unregisters it early.
func (l *Ledger) OnTerminal(jobID string, fn Listener) (unregister func()) {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	if l.terminalSubs[jobID] == nil {
		l.terminalSubs[jobID] = make(map[int]Listener)
	}
	l.terminalSubs[jobID][id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		if subs, ok := l.terminalSubs[jobID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(l.terminalSubs, jobID)
			}
		}
		l.mu.Unlock()
	}
}

// OnActionTerminal registers fn for every job of the given action that
// reaches a terminal state. Unlike OnTerminal it persists across jobs.
func (l *Ledger) OnActionTerminal(action model.Action, fn Listener) (unregister func()) {
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	if l.actionSubs[action] == nil {
		l.actionSubs[action] = make(map[int]Listener)
	}
	l.actionSubs[action][id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		if subs, ok := l.actionSubs[action]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(l.actionSubs, action)
			}
		}
		l.mu.Unlock()
	}
}

func (l *Ledger) notifyChange() {
	l.mu.RLock()
	fns := make([]func(), 0, len(l.changeSubs))
	for _, fn := range l.changeSubs {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
