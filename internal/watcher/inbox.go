package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/heimdex/avatar-agent/internal/catalog"
)

// Inbox subdirectories that processed requests are moved into.
const (
	SubmittedDir = "submitted"
	FailedDir    = "failed"
)

// Submitter queues render jobs. catalog.Service satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req catalog.SubmitRequest) (*catalog.Job, error)
}

// InboxRequest is the JSON body of an inbox file. A relative image path is
// resolved against the inbox directory.
type InboxRequest struct {
	Text        string `json:"text"`
	Image       string `json:"image"`
	Gender      string `json:"gender,omitempty"`
	Nationality string `json:"nationality,omitempty"`
	Captions    string `json:"captions,omitempty"`
}

// Inbox submits *.json requests dropped into dir.
type Inbox struct {
	dir       string
	submitter Submitter
	watcher   Watcher
	logger    *slog.Logger

	// OnSubmit, when set, is called after each successful submission.
	OnSubmit func(job *catalog.Job)

	mu sync.Mutex // serialises Process so a file is never handled twice
}

func NewInbox(dir string, submitter Submitter, w Watcher, logger *slog.Logger) *Inbox {
	return &Inbox{dir: dir, submitter: submitter, watcher: w, logger: logger}
}

func (in *Inbox) Dir() string { return in.dir }

// Start processes requests already waiting in the inbox and then watches it.
func (in *Inbox) Start(ctx context.Context) error {
	for _, d := range []string{in.dir, filepath.Join(in.dir, SubmittedDir), filepath.Join(in.dir, FailedDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create inbox: %w", err)
		}
	}

	existing, err := in.pending()
	if err != nil {
		return err
	}
	for _, p := range existing {
		in.Process(ctx, p)
	}

	in.watcher.OnChange(func(path string, event EventType) {
		if event == EventDelete || !isRequestFile(path) || filepath.Dir(path) != filepath.Clean(in.dir) {
			return
		}
		in.Process(ctx, path)
	})
	return in.watcher.Watch(ctx, in.dir)
}

func (in *Inbox) pending() ([]string, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && isRequestFile(e.Name()) {
			out = append(out, filepath.Join(in.dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func isRequestFile(path string) bool {
	base := filepath.Base(path)
	return strings.EqualFold(filepath.Ext(base), ".json") && !strings.HasPrefix(base, ".")
}

// Process submits one request file and moves it to submitted/ or, with an
// .error.txt note beside it, to failed/. It returns the created job, if any.
func (in *Inbox) Process(ctx context.Context, path string) (*catalog.Job, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		// already moved by an earlier event
		return nil, nil
	}

	logger := in.logger.With("file", filepath.Base(path))

	job, err := in.submit(ctx, path)
	if err != nil {
		logger.Warn("inbox request rejected", "error", err)
		if mvErr := in.move(path, FailedDir); mvErr != nil {
			logger.Error("failed to move rejected request", "error", mvErr)
		}
		note := filepath.Join(in.dir, FailedDir, filepath.Base(path)+".error.txt")
		os.WriteFile(note, []byte(err.Error()+"\n"), 0o644)
		return nil, err
	}

	if err := in.move(path, SubmittedDir); err != nil {
		logger.Error("failed to move submitted request", "error", err)
	}
	logger.Info("inbox request submitted", "job_id", job.ID)
	if in.OnSubmit != nil {
		in.OnSubmit(job)
	}
	return job, nil
}

func (in *Inbox) submit(ctx context.Context, path string) (*catalog.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var req InboxRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if strings.TrimSpace(req.Image) == "" {
		return nil, errors.New("image is required")
	}

	image := req.Image
	if !filepath.IsAbs(image) {
		image = filepath.Join(in.dir, image)
	}

	return in.submitter.Submit(ctx, catalog.SubmitRequest{
		Text:        req.Text,
		ImagePath:   image,
		Gender:      req.Gender,
		Nationality: req.Nationality,
		Captions:    req.Captions,
		Origin:      catalog.OriginInbox,
	})
}

// move renames path into sub, never overwriting an earlier file of the same
// name.
func (in *Inbox) move(path, sub string) error {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	dst := filepath.Join(in.dir, sub, base)
	for i := 1; ; i++ {
		if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
			break
		}
		dst = filepath.Join(in.dir, sub, fmt.Sprintf("%s-%d%s", stem, i, ext))
	}
	return os.Rename(path, dst)
}
