// Package pipelinestest provides a recording fake of pipelines.Invoker.
package pipelinestest

import (
	"context"
	"sync"

	"github.com/heimdex/avatar-agent/internal/pipelines"
)

// HandlerFunc simulates one external tool. It may write files named in the
// command's arguments or copy bytes to cmd.Stdout.
type HandlerFunc func(cmd pipelines.Command) pipelines.RunResult

// FakeInvoker records every command and dispatches it to a handler keyed by
// Command.Tool. Tools without a handler succeed with no output.
type FakeInvoker struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	calls    []pipelines.Command
}

// New creates an empty FakeInvoker.
func New() *FakeInvoker {
	return &FakeInvoker{handlers: make(map[string]HandlerFunc)}
}

// On registers fn for tool, replacing any earlier handler.
func (f *FakeInvoker) On(tool string, fn HandlerFunc) *FakeInvoker {
	f.mu.Lock()
	f.handlers[tool] = fn
	f.mu.Unlock()
	return f
}

// Fail makes tool exit with code and output.
func (f *FakeInvoker) Fail(tool string, code int, output string) *FakeInvoker {
	return f.On(tool, func(pipelines.Command) pipelines.RunResult {
		return pipelines.RunResult{ExitCode: code, Output: output}
	})
}

func (f *FakeInvoker) Invoke(ctx context.Context, cmd pipelines.Command) pipelines.RunResult {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h := f.handlers[cmd.Tool]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return pipelines.RunResult{ExitCode: -1, Output: err.Error()}
	}
	if h == nil {
		return pipelines.RunResult{}
	}
	return h(cmd)
}

// Calls returns a copy of every recorded command in order.
func (f *FakeInvoker) Calls() []pipelines.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipelines.Command(nil), f.calls...)
}

// CallsTo returns the recorded commands for one tool.
func (f *FakeInvoker) CallsTo(tool string) []pipelines.Command {
	var out []pipelines.Command
	for _, c := range f.Calls() {
		if c.Tool == tool {
			out = append(out, c)
		}
	}
	return out
}

// ArgAfter returns the argument following flag in cmd, or "".
func ArgAfter(cmd pipelines.Command, flag string) string {
	for i := 0; i < len(cmd.Args)-1; i++ {
		if cmd.Args[i] == flag {
			return cmd.Args[i+1]
		}
	}
	return ""
}
