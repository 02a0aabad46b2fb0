package watcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/heimdex/avatar-agent/internal/catalog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []catalog.SubmitRequest
	err  error
}

func (f *fakeSubmitter) Submit(ctx context.Context, req catalog.SubmitRequest) (*catalog.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.reqs = append(f.reqs, req)
	return &catalog.Job{ID: "job-" + req.Text, Status: catalog.JobStatusPending}, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

// manualWatcher lets tests fire events directly.
type manualWatcher struct {
	cb      func(string, EventType)
	watched string
}

func (m *manualWatcher) Watch(ctx context.Context, path string) error { m.watched = path; return nil }
func (m *manualWatcher) Stop() error                                  { return nil }
func (m *manualWatcher) OnChange(cb func(string, EventType))          { m.cb = cb }

func writeRequest(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInbox_ProcessSubmitsAndMoves(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	in := NewInbox(dir, sub, &manualWatcher{}, testLogger())
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var woke []string
	in.OnSubmit = func(j *catalog.Job) { woke = append(woke, j.ID) }

	p := writeRequest(t, dir, "hello.json", `{"text":"hi","image":"me.png","gender":"male","nationality":"india","captions":"burned"}`)
	job, err := in.Process(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if job.ID != "job-hi" || len(woke) != 1 {
		t.Errorf("job = %v, woke = %v", job, woke)
	}

	req := sub.reqs[0]
	if req.ImagePath != filepath.Join(dir, "me.png") {
		t.Errorf("image = %s, want resolved against inbox", req.ImagePath)
	}
	if req.Origin != catalog.OriginInbox || req.Captions != "burned" || req.Nationality != "india" {
		t.Errorf("req = %+v", req)
	}
	if _, err := os.Stat(filepath.Join(dir, SubmittedDir, "hello.json")); err != nil {
		t.Errorf("request not moved to submitted: %v", err)
	}
	if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
		t.Error("request still in inbox")
	}

	// a second event for the same file is a no-op
	if job, err := in.Process(context.Background(), p); job != nil || err != nil {
		t.Errorf("reprocess = %v, %v", job, err)
	}
}

func TestInbox_RejectedRequestsGoToFailed(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
	}{
		{"bad json", `{"text":`, nil},
		{"no image", `{"text":"hi"}`, nil},
		{"submit error", `{"text":"hi","image":"/abs/me.png"}`, errors.New("text is required")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			in := NewInbox(dir, &fakeSubmitter{err: tc.err}, &manualWatcher{}, testLogger())
			if err := in.Start(context.Background()); err != nil {
				t.Fatal(err)
			}

			p := writeRequest(t, dir, "req.json", tc.body)
			if _, err := in.Process(context.Background(), p); err == nil {
				t.Fatal("expected an error")
			}
			if _, err := os.Stat(filepath.Join(dir, FailedDir, "req.json")); err != nil {
				t.Errorf("not moved to failed: %v", err)
			}
			note, err := os.ReadFile(filepath.Join(dir, FailedDir, "req.json.error.txt"))
			if err != nil || len(note) == 0 {
				t.Errorf("error note missing: %v", err)
			}
		})
	}
}

func TestInbox_StartProcessesBacklogAndFiltersEvents(t *testing.T) {
	dir := t.TempDir()
	writeRequest(t, dir, "b.json", `{"text":"b","image":"b.png"}`)
	writeRequest(t, dir, "a.json", `{"text":"a","image":"a.png"}`)
	writeRequest(t, dir, "notes.txt", `ignore me`)

	sub := &fakeSubmitter{}
	w := &manualWatcher{}
	in := NewInbox(dir, sub, w, testLogger())
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if sub.count() != 2 || sub.reqs[0].Text != "a" {
		t.Fatalf("backlog = %+v, want a then b", sub.reqs)
	}
	if w.watched != dir {
		t.Errorf("watching %q", w.watched)
	}

	w.cb(writeRequest(t, dir, "notes2.txt", "x"), EventCreate)
	w.cb(filepath.Join(dir, "gone.json"), EventDelete)
	w.cb(writeRequest(t, dir, "c.json", `{"text":"c","image":"c.png"}`), EventCreate)
	if sub.count() != 3 {
		t.Errorf("submitted %d, want 3", sub.count())
	}
}

func TestInbox_MoveDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	sub := &fakeSubmitter{}
	in := NewInbox(dir, sub, &manualWatcher{}, testLogger())
	if err := in.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		p := writeRequest(t, dir, "same.json", `{"text":"x","image":"x.png"}`)
		if _, err := in.Process(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	entries, _ := os.ReadDir(filepath.Join(dir, SubmittedDir))
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if strings.Join(names, ",") != "same-1.json,same.json" {
		t.Errorf("submitted = %v", names)
	}
}

func TestFSWatcher_CoalescesWrites(t *testing.T) {
	dir := t.TempDir()
	w, err := NewFSWatcher(testLogger(), 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	events := make(chan EventType, 8)
	w.OnChange(func(path string, ev EventType) {
		if filepath.Base(path) == "req.json" {
			events <- ev
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Watch(ctx, dir); err != nil {
		t.Fatal(err)
	}

	f, err := os.Create(filepath.Join(dir, "req.json"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		f.WriteString("chunk")
		f.Sync()
	}
	f.Close()

	select {
	case ev := <-events:
		if ev != EventCreate {
			t.Errorf("event = %v, want create", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}

	select {
	case ev := <-events:
		t.Errorf("unexpected second event %v", ev)
	case <-time.After(400 * time.Millisecond):
	}
}
