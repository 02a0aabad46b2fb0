// Package vision provides the face-detection, landmark and background-matting
// backends used by portrait preprocessing.
package vision

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// maxFrame bounds a single response from the helper.
const maxFrame = 64 << 20

const (
	// closeGrace is how long Close waits for the helper to exit on EOF
	// before killing it.
	closeGrace = 2 * time.Second
	// waitDelay bounds the wait for stderr after the helper exits; a
	// grandchild can keep the pipe open.
	waitDelay = 500 * time.Millisecond
)

var errWorkerClosed = errors.New("vision helper closed")

// Worker is a long-lived python helper process. Requests go to its stdin and
// responses come back on a dedicated pipe (fd 3 in the child), so library
// chatter on stdout/stderr never corrupts the protocol.
//
// Protocol, both directions: [uint32 big-endian length][json body].
type Worker struct {
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	dataPipe io.ReadCloser
	stderr   *tailBuffer

	mu     sync.Mutex
	broken error

	// dead and the shutdown fields are used without mu so a Call blocked
	// on the helper never stalls Alive, Close or Kill.
	dead      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// response is the envelope every helper reply shares.
type response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// StartWorker launches python -u script.
func StartWorker(python, script string, env []string) (*Worker, error) {
	cmd := exec.Command(python, "-u", script)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stderr := &tailBuffer{buf: new(bytes.Buffer), limit: 8 * 1024}
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("vision helper failed to start: %w", err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &Worker{cmd: cmd, stdin: stdin, dataPipe: r, stderr: stderr}, nil
}

// Call sends req and decodes the reply into resp. Calls are serialised.
// After an I/O failure the worker is unusable and every later Call fails.
func (w *Worker) Call(req, resp any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.broken != nil {
		return w.broken
	}
	if w.dead.Load() {
		return errWorkerClosed
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	raw, err := w.communicate(body)
	if err != nil {
		w.broken = fmt.Errorf("vision helper died: %w", err)
		w.dead.Store(true)
		return w.broken
	}

	var env response
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("invalid helper response: %w", err)
	}
	if !env.OK {
		return fmt.Errorf("vision helper: %s", env.Error)
	}
	if resp != nil {
		return json.Unmarshal(raw, resp)
	}
	return nil
}

func (w *Worker) communicate(data []byte) ([]byte, error) {
	if err := binary.Write(w.stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.dataPipe, header); err != nil {
		return nil, err // this is where an import error in the helper surfaces
	}

	n := binary.BigEndian.Uint32(header)
	if n > maxFrame {
		return nil, fmt.Errorf("response frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	_, err := io.ReadFull(w.dataPipe, body)
	return body, err
}

// Alive reports whether the worker can still serve calls.
func (w *Worker) Alive() bool {
	return !w.dead.Load()
}

// Stderr returns the tail of the helper's diagnostic output.
func (w *Worker) Stderr() string {
	if w.stderr == nil {
		return ""
	}
	return w.stderr.String()
}

// Close ends the helper by closing its stdin and waits for it to exit,
// killing it if it is still running after closeGrace.
func (w *Worker) Close() error { return w.shutdown(closeGrace) }

// Kill stops the helper at once. A Call blocked on the helper returns with
// an error.
func (w *Worker) Kill() error { return w.shutdown(0) }

func (w *Worker) shutdown(grace time.Duration) error {
	w.closeOnce.Do(func() {
		w.dead.Store(true)
		w.stdin.Close()
		if w.cmd == nil || w.cmd.Process == nil {
			w.dataPipe.Close()
			return
		}

		exited := make(chan error, 1)
		go func() { exited <- w.cmd.Wait() }()
		if grace > 0 {
			t := time.NewTimer(grace)
			defer t.Stop()
			select {
			case err := <-exited:
				w.dataPipe.Close()
				w.closeErr = err
				return
			case <-t.C:
			}
		}

		w.cmd.Process.Kill()
		// unblocks a read even when a grandchild still holds the write end
		w.dataPipe.Close()
		if err := <-exited; err != nil && grace > 0 {
			w.closeErr = err
		}
	})
	return w.closeErr
}

type tailBuffer struct {
	mu    sync.Mutex
	buf   *bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if t.buf.Len() > t.limit {
		tail := append([]byte(nil), t.buf.Bytes()[t.buf.Len()-t.limit:]...)
		t.buf.Reset()
		t.buf.Write(tail)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
