package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teamdock/portal/internal/ledger"
	"github.com/teamdock/portal/internal/model"
)

func waitForJob(t *testing.T, ld *ledger.Ledger, jobID string, want model.JobStatus) model.Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := ld.ByID(jobID); ok && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := ld.ByID(jobID)
	t.Fatalf("job %s never reached %s, stuck at %s", jobID, want, job.Status)
	return model.Job{}
}

func TestSettlesWhenWorkspaceTurnsActive(t *testing.T) {
	ld := ledger.New()
	ld.Start("job-1", ledger.TaskMeta{Action: model.ActionCreateWorkspace, EntitySlug: "demo"})

	var polls atomic.Int32
	fetch := func(ctx context.Context) (model.WorkspaceHealth, error) {
		if polls.Add(1) < 3 {
			return model.WorkspaceHealth{Slug: "demo", Status: model.WorkspaceProvisioning}, nil
		}
		return model.WorkspaceHealth{Slug: "demo", Status: model.WorkspaceActive, AllHealthy: true}, nil
	}

	var settled atomic.Int32
	p := New(ld)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background(), Watch{
			Slug:      "demo",
			JobID:     "job-1",
			Fetch:     fetch,
			Interval:  10 * time.Millisecond,
			OnSettled: func(model.WorkspaceHealth) { settled.Add(1) },
		})
	}()

	<-done
	job := waitForJob(t, ld, "job-1", model.JobStatusCompleted)
	if job.Percentage != 100 {
		t.Errorf("percentage = %d, want 100", job.Percentage)
	}
	if settled.Load() != 1 {
		t.Errorf("OnSettled ran %d times, want 1", settled.Load())
	}
	if polls.Load() < 3 {
		t.Errorf("poller settled after only %d fetches", polls.Load())
	}
}

func TestSharedGuardSuppressesSecondPath(t *testing.T) {
	ld := ledger.New()
	ld.Start("job-2", ledger.TaskMeta{Action: model.ActionCreateWorkspace, EntitySlug: "demo"})

	guard := &sync.Once{}
	var fired atomic.Int32

	// Simulate the push channel finishing first: the completion listener
	// consumes the shared guard.
	ld.OnTerminal("job-2", func(model.Job) {
		guard.Do(func() { fired.Add(1) })
	})
	ld.Complete("job-2", nil)

	p := New(ld)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Run(ctx, Watch{
		Slug:  "demo",
		JobID: "job-2",
		Fetch: func(ctx context.Context) (model.WorkspaceHealth, error) {
			return model.WorkspaceHealth{Slug: "demo", Status: model.WorkspaceActive, AllHealthy: true}, nil
		},
		Interval:  10 * time.Millisecond,
		Guard:     guard,
		OnSettled: func(model.WorkspaceHealth) { fired.Add(1) },
	})

	if got := fired.Load(); got != 1 {
		t.Errorf("follow-up fired %d times across both paths, want 1", got)
	}
}

func TestChannelWinCarriesSlugToSettled(t *testing.T) {
	ld := ledger.New()
	ld.Start("job-7", ledger.TaskMeta{Action: model.ActionCreateWorkspace, EntitySlug: "demo"})

	// The push channel finishes the job before the watch ever fetches.
	ld.Complete("job-7", nil)

	var got model.WorkspaceHealth
	var polls atomic.Int32
	New(ld).Run(context.Background(), Watch{
		Slug:  "demo",
		JobID: "job-7",
		Fetch: func(ctx context.Context) (model.WorkspaceHealth, error) {
			polls.Add(1)
			return model.WorkspaceHealth{}, nil
		},
		Interval:  5 * time.Millisecond,
		OnSettled: func(h model.WorkspaceHealth) { got = h },
	})

	if polls.Load() != 0 {
		t.Errorf("fetched %d times for an already-finished job", polls.Load())
	}
	if got.Slug != "demo" {
		t.Errorf("OnSettled health slug = %q, want demo", got.Slug)
	}
}

func TestSkipsFetchWhileChannelHealthy(t *testing.T) {
	ld := ledger.New()
	ld.Start("job-3", ledger.TaskMeta{Action: model.ActionRestartWorkspace, EntitySlug: "demo"})

	var polls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p := New(ld)
	go func() {
		defer close(done)
		p.Run(ctx, Watch{
			Slug:  "demo",
			JobID: "job-3",
			Fetch: func(ctx context.Context) (model.WorkspaceHealth, error) {
				polls.Add(1)
				// Settled immediately so a single fetch ends the watch.
				return model.WorkspaceHealth{Slug: "demo", Status: model.WorkspaceActive, AllHealthy: true}, nil
			},
			Interval:  10 * time.Millisecond,
			Connected: func() bool { return true },
		})
	}()

	// The first fetch runs because the state is still unknown; once it
	// reports active the watch settles. With a connected channel there is
	// never a second probe of an unambiguous resource.
	<-done
	if got := polls.Load(); got != 1 {
		t.Errorf("fetched %d times with channel connected, want 1", got)
	}
	waitForJob(t, ld, "job-3", model.JobStatusCompleted)
	cancel()
}

func TestGivesUpAfterAttemptCap(t *testing.T) {
	ld := ledger.New()
	ld.Start("job-4", ledger.TaskMeta{Action: model.ActionCreateWorkspace, EntitySlug: "demo"})

	var gaveUp atomic.Bool
	p := New(ld)
	p.Run(context.Background(), Watch{
		Slug:  "demo",
		JobID: "job-4",
		Fetch: func(ctx context.Context) (model.WorkspaceHealth, error) {
			return model.WorkspaceHealth{Slug: "demo", Status: model.WorkspaceProvisioning}, nil
		},
		Interval:    5 * time.Millisecond,
		MaxAttempts: 4,
		OnGiveUp:    func() { gaveUp.Store(true) },
	})

	job := waitForJob(t, ld, "job-4", model.JobStatusFailed)
	if job.Error == "" {
		t.Error("give-up left no error on the job")
	}
	if !gaveUp.Load() {
		t.Error("OnGiveUp not invoked")
	}
}

func TestFailedWorkspaceFailsJob(t *testing.T) {
	ld := ledger.New()
	ld.Start("job-5", ledger.TaskMeta{Action: model.ActionStartWorkspace, EntitySlug: "demo"})

	p := New(ld)
	p.Run(context.Background(), Watch{
		Slug:  "demo",
		JobID: "job-5",
		Fetch: func(ctx context.Context) (model.WorkspaceHealth, error) {
			return model.WorkspaceHealth{Slug: "demo", Status: model.WorkspaceFailed}, nil
		},
		Interval: 5 * time.Millisecond,
	})

	waitForJob(t, ld, "job-5", model.JobStatusFailed)
}

func TestContextCancellationStopsWatch(t *testing.T) {
	ld := ledger.New()
	ld.Start("job-6", ledger.TaskMeta{Action: model.ActionCreateWorkspace, EntitySlug: "demo"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		New(ld).Run(ctx, Watch{
			Slug:  "demo",
			JobID: "job-6",
			Fetch: func(ctx context.Context) (model.WorkspaceHealth, error) {
				return model.WorkspaceHealth{Slug: "demo", Status: model.WorkspaceProvisioning}, nil
			},
			Interval: 5 * time.Millisecond,
		})
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch did not stop on context cancellation")
	}

	// The job stays active for the channel to finish; cancellation is not
	// a verdict on the resource.
	job, ok := ld.ByID("job-6")
	if !ok || job.Status.Terminal() {
		t.Errorf("cancelled watch mutated the job: %+v", job)
	}
}
