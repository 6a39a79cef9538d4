// Package poller re-reads authoritative resource status as a backstop for
// the push channel. It is a second, independent producer of the same ledger
// mutations the channel makes, so either can be disabled or tested alone;
// both paths converge on a job's terminal state through the ledger, and a
// shared guard keeps any follow-up action to exactly one invocation.
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/teamdock/portal/internal/ledger"
	"github.com/teamdock/portal/internal/model"
)

const (
	defaultInterval    = 5 * time.Second
	defaultMaxAttempts = 60
)

// HealthFunc reads the authoritative status of one resource.
type HealthFunc func(ctx context.Context) (model.WorkspaceHealth, error)

// Watch describes one resource to reconcile.
type Watch struct {
	// Slug identifies the resource, for logging and ledger reconciliation.
	Slug string

	// JobID is the ledger job this watch reconciles. When the resource
	// settles the watch applies the same terminal ledger mutation a channel
	// event would have.
	JobID string

	// Fetch reads the resource's status endpoint.
	Fetch HealthFunc

	// Interval between polls; defaults to 5s.
	Interval time.Duration

	// MaxAttempts caps the number of fetches for a starting flow; once
	// exhausted the watch fails the job instead of polling forever.
	// Defaults to 60.
	MaxAttempts int

	// Connected reports push channel connectivity. While it returns true
	// and the resource is not in an ambiguous state, the watch skips its
	// fetch and lets the channel deliver the event.
	Connected func() bool

	// Guard, when shared with a completion listener, ensures the follow-up
	// fires exactly once across both paths.
	Guard *sync.Once

	// OnSettled runs under Guard once the resource reaches a healthy
	// terminal state, or the job finished through the channel first. In
	// the latter case no fetch may have happened yet; the health argument
	// then carries only the slug, and the ledger job is authoritative.
	OnSettled func(model.WorkspaceHealth)

	// OnGiveUp runs after the attempt cap is exhausted.
	OnGiveUp func()
}

// Poller reconciles watched resources against the ledger.
type Poller struct {
	ledger *ledger.Ledger
}

// New creates a poller writing into the given ledger.
func New(ld *ledger.Ledger) *Poller {
	return &Poller{ledger: ld}
}

// Run drives one watch until the resource settles, the attempt cap is hit,
// or ctx is cancelled. It blocks; callers run it in a goroutine per
// resource.
func (p *Poller) Run(ctx context.Context, w Watch) {
	if w.Interval <= 0 {
		w.Interval = defaultInterval
	}
	if w.MaxAttempts <= 0 {
		w.MaxAttempts = defaultMaxAttempts
	}
	if w.Guard == nil {
		w.Guard = &sync.Once{}
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	attempts := 0
	last := model.WorkspaceHealth{Slug: w.Slug}
	ambiguous := true // unknown state counts as ambiguous

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// The channel may have finished the job while we slept.
		if w.JobID != "" {
			if job, ok := p.ledger.ByID(w.JobID); ok && job.Status.Terminal() {
				if job.Status == model.JobStatusCompleted && w.OnSettled != nil {
					w.Guard.Do(func() { w.OnSettled(last) })
				}
				return
			}
		}

		if w.Connected != nil && w.Connected() && !ambiguous {
			continue
		}

		attempts++
		health, err := w.Fetch(ctx)
		if err != nil {
			log.Printf("poller: fetch for %s failed: %v", w.Slug, err)
			if attempts >= w.MaxAttempts {
				p.giveUp(w)
				return
			}
			continue
		}
		last = health
		ambiguous = health.Status.Ambiguous()

		if !ambiguous {
			p.settle(w, health)
			return
		}

		if attempts >= w.MaxAttempts {
			p.giveUp(w)
			return
		}
	}
}

// settle applies the terminal ledger mutation a channel event would have
// and fires the follow-up exactly once.
func (p *Poller) settle(w Watch, health model.WorkspaceHealth) {
	switch {
	case health.Status == model.WorkspaceActive && health.AllHealthy:
		if w.JobID != "" {
			result, _ := json.Marshal(model.WorkspaceResult{WorkspaceSlug: w.Slug})
			p.ledger.Complete(w.JobID, result)
		}
		if w.OnSettled != nil {
			w.Guard.Do(func() { w.OnSettled(health) })
		}
	case health.Status == model.WorkspaceFailed:
		if w.JobID != "" {
			p.ledger.Fail(w.JobID, fmt.Sprintf("workspace %s reported failed", w.Slug))
		}
	default:
		// Stopped, or active with unhealthy containers: settled but not
		// the state a starting flow waits for.
		if w.JobID != "" {
			p.ledger.Fail(w.JobID, fmt.Sprintf("workspace %s settled in state %s", w.Slug, health.Status))
		}
	}
}

func (p *Poller) giveUp(w Watch) {
	log.Printf("poller: giving up on %s after %d attempts", w.Slug, w.MaxAttempts)
	if w.JobID != "" {
		p.ledger.Fail(w.JobID, fmt.Sprintf("timed out waiting for %s to become ready", w.Slug))
	}
	if w.OnGiveUp != nil {
		w.OnGiveUp()
	}
}
