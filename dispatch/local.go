// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/kortschak/seqsearch/search"
)

// MaxConcurrent is the ceiling on simultaneously running local processes.
const MaxConcurrent = 32

// TerminateGrace is how long a terminated process has to exit
// before it is killed.
var TerminateGrace = 5 * time.Second

// Local runs jobs as child processes of the current process.
type Local struct {
	// Limit is the maximum number of concurrently running
	// processes. Values outside (0, MaxConcurrent] are
	// treated as MaxConcurrent.
	Limit int

	// Stderr, if not nil, receives a copy of every
	// process's standard error.
	Stderr io.Writer

	// Logger receives the command line of each started
	// process. A nil Logger discards.
	Logger *log.Logger

	once sync.Once
	sem  chan struct{}
}

func (l *Local) semaphore() chan struct{} {
	l.once.Do(func() {
		n := l.Limit
		if n <= 0 || n > MaxConcurrent {
			n = MaxConcurrent
		}
		l.sem = make(chan struct{}, n)
	})
	return l.sem
}

// Start starts j in a new goroutine. The process is started when a
// concurrency slot is available. Errors preparing the command, including
// an unresolvable executable, are returned immediately.
func (l *Local) Start(ctx context.Context, j search.Job) (Handle, error) {
	h, err := l.prepare(j)
	if err != nil {
		return nil, err
	}
	go h.run(ctx, l.semaphore(), l.Logger)
	return h, nil
}

// Run runs j in the calling goroutine, returning a *JobExecutionError
// if it fails.
func (l *Local) Run(ctx context.Context, j search.Job) error {
	h, err := l.prepare(j)
	if err != nil {
		return &JobExecutionError{Index: j.Index, Job: j.String(), Stderr: j.Stderr, Err: err}
	}
	h.run(ctx, l.semaphore(), l.Logger)
	return h.err
}

func (l *Local) prepare(j search.Job) (*localHandle, error) {
	cmd, err := j.Command()
	if err != nil {
		return nil, err
	}
	setProcessGroup(cmd)

	h := &localHandle{
		job:    j,
		cmd:    cmd,
		tail:   &tailBuffer{max: tailSize},
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if j.Stdout != "" {
		f, err := os.Create(j.Stdout)
		if err != nil {
			return nil, err
		}
		h.files = append(h.files, f)
		cmd.Stdout = f
	}
	stderr := []io.Writer{h.tail}
	if j.Stderr != "" {
		f, err := os.Create(j.Stderr)
		if err != nil {
			h.closeFiles()
			return nil, err
		}
		h.files = append(h.files, f)
		stderr = append(stderr, f)
	}
	if l.Stderr != nil {
		stderr = append(stderr, l.Stderr)
	}
	cmd.Stderr = io.MultiWriter(stderr...)
	return h, nil
}

type localHandle struct {
	job   search.Job
	cmd   *exec.Cmd
	files []*os.File
	tail  *tailBuffer

	cancelOnce sync.Once
	cancel     chan struct{}
	done       chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

func (h *localHandle) Job() search.Job { return h.job }

func (h *localHandle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *localHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *localHandle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancel) })
}

func (h *localHandle) run(ctx context.Context, sem chan struct{}, logger *log.Logger) {
	defer close(h.done)
	defer h.closeFiles()

	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		h.finish(ctx.Err())
		return
	case <-h.cancel:
		h.finish(context.Canceled)
		return
	}
	select {
	case <-ctx.Done():
		h.finish(ctx.Err())
		return
	case <-h.cancel:
		h.finish(context.Canceled)
		return
	default:
	}

	if logger != nil {
		logger.Print(h.cmd)
	}
	h.mu.Lock()
	err := h.cmd.Start()
	if err != nil {
		h.mu.Unlock()
		h.finish(err)
		return
	}
	h.state = Running
	h.mu.Unlock()

	var (
		stop    = make(chan struct{})
		stopped = make(chan error, 1)
	)
	go func() {
		select {
		case <-ctx.Done():
			stopped <- ctx.Err()
		case <-h.cancel:
			stopped <- context.Canceled
		case <-stop:
			return
		}
		h.terminate(stop)
	}()
	err = h.cmd.Wait()
	close(stop)
	if err != nil {
		select {
		case cause := <-stopped:
			err = &cancelledError{cause: cause, err: err}
		default:
		}
	}
	h.finish(err)
}

// terminate signals the job's process group to terminate and kills
// it if it has not exited after TerminateGrace.
func (h *localHandle) terminate(exited <-chan struct{}) {
	pid := h.cmd.Process.Pid
	signalGroup(pid, false)
	t := time.NewTimer(TerminateGrace)
	defer t.Stop()
	select {
	case <-t.C:
		signalGroup(pid, true)
	case <-exited:
	}
}

func (h *localHandle) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		h.state = Completed
		return
	}
	h.state = Failed
	h.err = &JobExecutionError{
		Index:  h.job.Index,
		Job:    h.job.String(),
		Stderr: h.job.Stderr,
		Tail:   h.tail.String(),
		Err:    err,
	}
}

func (h *localHandle) closeFiles() {
	for _, f := range h.files {
		f.Close()
	}
	h.files = nil
}

// cancelledError is the exit error of a process that was
// terminated because its job was cancelled.
type cancelledError struct {
	cause error
	err   error
}

func (e *cancelledError) Error() string { return e.cause.Error() + ": " + e.err.Error() }
func (e *cancelledError) Unwrap() []error {
	return []error{e.cause, e.err}
}

const tailSize = 4 << 10

// tailBuffer retains the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if len(p) >= b.max {
		b.buf = append(b.buf[:0], p[len(p)-b.max:]...)
		return n, nil
	}
	if over := len(b.buf) + len(p) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
