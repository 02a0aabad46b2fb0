package catalog

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heimdex/avatar-agent/internal/apperr"
	"github.com/heimdex/avatar-agent/internal/pipeline"
	"github.com/heimdex/avatar-agent/internal/portrait"
)

type fakeRenderer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req pipeline.Request, obs pipeline.Observer) (*pipeline.Result, error)
}

func (f *fakeRenderer) Run(ctx context.Context, req pipeline.Request, obs pipeline.Observer) (*pipeline.Result, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, req, obs)
	}
	for _, s := range []pipeline.State{pipeline.StateInit, pipeline.StateVoiceSelected, pipeline.StateMuxed, pipeline.StateDone} {
		obs.Transition(pipeline.Event{State: s, Stage: s.String(), Progress: s.Progress()})
	}
	return &pipeline.Result{
		RunID:     "abc",
		Workspace: "/work/tmp_abc",
		Voice:     "en-US-JennyNeural",
		Final:     "/work/tmp_abc/video/final.mp4",
	}, nil
}

func setupRunnerTest(t *testing.T, renderer Renderer) (*Runner, *Service, Repository, *Hub) {
	t.Helper()

	database, repo := setupTestDB(t)
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := NewHub()
	svc := NewService(repo, renderer, hub, logger)
	return NewRunner(svc, repo, logger), svc, repo, hub
}

func TestRunner_CompletesJob(t *testing.T) {
	fake := &fakeRenderer{}
	runner, svc, repo, hub := setupRunnerTest(t, fake)
	ctx := context.Background()

	job, _ := svc.Submit(ctx, SubmitRequest{Text: "hello", ImagePath: "/tmp/a.png"})
	events, stop := hub.Subscribe(job.ID)
	defer stop()

	if !runner.processNextJob(ctx) {
		t.Fatal("expected a job to run")
	}
	if runner.processNextJob(ctx) {
		t.Error("queue should be empty")
	}

	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusCompleted || got.Progress != 100 || got.Stage != "done" {
		t.Errorf("job = %+v", got)
	}
	if got.FinalPath != "/work/tmp_abc/video/final.mp4" || got.Voice != "en-US-JennyNeural" || got.RunID != "abc" {
		t.Errorf("result not recorded: %+v", got)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("timestamps not recorded")
	}
	if len(events) != 4 {
		t.Errorf("published %d events, want 4", len(events))
	}
	if runner.ActiveJobID() != "" {
		t.Error("runner should be idle")
	}
}

func TestRunner_RecordsFailureKind(t *testing.T) {
	fake := &fakeRenderer{fn: func(ctx context.Context, req pipeline.Request, obs pipeline.Observer) (*pipeline.Result, error) {
		obs.Transition(pipeline.Event{State: pipeline.StateVoiceSelected, Stage: "voice_selected", Progress: 5})
		return nil, &pipeline.StageError{Stage: pipeline.StateVoiceSelected, Err: apperr.Detection("locate face", portrait.ErrNoFace)}
	}}
	runner, svc, repo, _ := setupRunnerTest(t, fake)
	ctx := context.Background()

	job, _ := svc.Submit(ctx, SubmitRequest{Text: "hello", ImagePath: "/tmp/a.png"})
	runner.processNextJob(ctx)

	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusFailed || got.ErrorKind != "detection" {
		t.Errorf("job = %+v", got)
	}
	if got.Stage != "voice_selected" || got.Progress != 5 {
		t.Errorf("stage = %s (%d)", got.Stage, got.Progress)
	}
}

func TestRunner_CancelRunning(t *testing.T) {
	started := make(chan struct{})
	fake := &fakeRenderer{fn: func(ctx context.Context, req pipeline.Request, obs pipeline.Observer) (*pipeline.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	runner, svc, repo, _ := setupRunnerTest(t, fake)
	ctx := context.Background()

	job, _ := svc.Submit(ctx, SubmitRequest{Text: "hello", ImagePath: "/tmp/a.png"})
	done := make(chan struct{})
	go func() {
		runner.processNextJob(ctx)
		close(done)
	}()

	<-started
	if runner.ActiveJobID() != job.ID {
		t.Errorf("active = %q", runner.ActiveJobID())
	}
	if _, err := svc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("render did not stop after cancel")
	}

	got, _ := repo.GetJob(ctx, job.ID)
	if got.Status != JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestRunner_PauseResume(t *testing.T) {
	fake := &fakeRenderer{}
	runner, svc, repo, _ := setupRunnerTest(t, fake)
	runner.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner.Pause()
	go runner.Start(ctx)

	job, _ := svc.Submit(ctx, SubmitRequest{Text: "hello", ImagePath: "/tmp/a.png"})
	runner.Wake()
	time.Sleep(50 * time.Millisecond)
	if fake.calls.Load() != 0 {
		t.Fatal("paused runner must not render")
	}

	runner.Resume()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := repo.GetJob(ctx, job.ID)
		if got.Status == JobStatusCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not complete after resume")
}

func TestRunner_SkipsClaimedJob(t *testing.T) {
	fake := &fakeRenderer{}
	_, svc, repo, _ := setupRunnerTest(t, fake)
	ctx := context.Background()

	job, _ := svc.Submit(ctx, SubmitRequest{Text: "hello", ImagePath: "/tmp/a.png"})
	if ok, err := repo.ClaimJob(ctx, job.ID); !ok || err != nil {
		t.Fatalf("ClaimJob() = %v, %v", ok, err)
	}
	if err := svc.Execute(ctx, job); err != nil {
		t.Fatal(err)
	}
	if fake.calls.Load() != 0 {
		t.Error("a job claimed elsewhere must not render twice")
	}
}
