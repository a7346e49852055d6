// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/kortschak/seqsearch/search"
	"github.com/kortschak/seqsearch/slurm"
)

// DefaultPoll is the default interval between job state queries.
const DefaultPoll = 10 * time.Second

// maxPollErrors is the number of consecutive failed state
// queries after which a job is considered lost.
const maxPollErrors = 10

// Batch submits jobs to a SLURM batch queue. Each job is submitted as a
// single wrapped command line and its state is polled with sacct.
type Batch struct {
	// Params are the resource requests used for jobs
	// without their own batch parameters.
	Params slurm.Params

	// Name is the prefix of submitted job names.
	Name string

	// Sbatch, Sacct and Scancel override the names
	// of the SLURM commands.
	Sbatch, Sacct, Scancel string

	// Poll is the interval between state queries.
	// If zero, DefaultPoll is used.
	Poll time.Duration

	// Logger receives submission and polling messages.
	// A nil Logger discards.
	Logger *log.Logger
}

// Start submits j and returns once the queue has accepted it. The job's
// standard error is always captured, to the job's Stderr path or to the
// output path with a .stderr suffix.
func (b *Batch) Start(ctx context.Context, j search.Job) (Handle, error) {
	args, err := j.Args()
	if err != nil {
		return nil, err
	}
	params := b.Params
	if j.Batch != nil {
		params = *j.Batch
	}
	s := slurm.NewSbatch(params)
	s.Cmd = b.Sbatch
	s.CPUs = j.Threads
	s.Wrap = args
	s.JobName = b.Name
	if j.Index != search.Unsplit {
		s.JobName = fmt.Sprintf("%s-%02d", b.Name, j.Index)
	}
	s.Output = j.Stdout
	if s.Output == "" {
		s.Output = os.DevNull
	}
	s.Error = j.Stderr
	if s.Error == "" {
		s.Error = j.Out + ".stderr"
	}

	cmd, err := s.BuildCommand()
	if err != nil {
		return nil, err
	}
	b.logf("%v", cmd)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &search.ExecutableNotFoundError{Name: cmd.Args[0], Err: err}
		}
		return nil, fmt.Errorf("sbatch: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	id, err := slurm.ParseJobID(out)
	if err != nil {
		return nil, err
	}
	b.logf("submitted %v as slurm job %s", j, id)

	h := &batchHandle{
		batch:  b,
		job:    j,
		id:     id,
		stderr: s.Error,
		state:  Running,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.poll(ctx)
	return h, nil
}

func (b *Batch) logf(format string, args ...interface{}) {
	if b.Logger != nil {
		b.Logger.Printf(format, args...)
	}
}

type batchHandle struct {
	batch  *Batch
	job    search.Job
	id     string
	stderr string

	cancelOnce sync.Once
	cancel     chan struct{}
	done       chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

func (h *batchHandle) Job() search.Job { return h.job }

func (h *batchHandle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *batchHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *batchHandle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancel) })
}

func (h *batchHandle) poll(ctx context.Context) {
	defer close(h.done)

	interval := h.batch.Poll
	if interval <= 0 {
		interval = DefaultPoll
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var failures int
	for {
		select {
		case <-ctx.Done():
			h.scancel()
			h.finish(ctx.Err())
			return
		case <-h.cancel:
			h.scancel()
			h.finish(context.Canceled)
			return
		case <-ticker.C:
		}

		state, err := h.query()
		if err != nil {
			failures++
			h.batch.logf("failed to query state of slurm job %s: %v", h.id, err)
			if failures >= maxPollErrors {
				h.finish(fmt.Errorf("lost slurm job %s: %w", h.id, err))
				return
			}
			continue
		}
		failures = 0
		if !state.Done() {
			continue
		}
		h.batch.logf("slurm job %s %s", h.id, state)
		if state.OK() {
			h.finish(nil)
		} else {
			h.finish(fmt.Errorf("slurm job %s ended in state %s", h.id, state))
		}
		return
	}
}

func (h *batchHandle) query() (slurm.State, error) {
	cmd, err := slurm.Sacct{Cmd: h.batch.Sacct, JobID: h.id}.BuildCommand()
	if err != nil {
		return "", err
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return slurm.ParseState(out), nil
}

func (h *batchHandle) scancel() {
	cmd, err := slurm.Scancel{Cmd: h.batch.Scancel, JobID: h.id}.BuildCommand()
	if err != nil {
		return
	}
	h.batch.logf("%v", cmd)
	err = cmd.Run()
	if err != nil {
		h.batch.logf("failed to cancel slurm job %s: %v", h.id, err)
	}
}

func (h *batchHandle) finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		h.state = Completed
		return
	}
	h.state = Failed
	h.err = &JobExecutionError{
		Index:  h.job.Index,
		Job:    fmt.Sprintf("%v (slurm job %s)", h.job, h.id),
		Stderr: h.stderr,
		Tail:   readTail(h.stderr, tailSize),
		Err:    err,
	}
}

// readTail returns up to the last n bytes of the file at path.
func readTail(path string, n int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return ""
	}
	off := fi.Size() - n
	if off < 0 {
		off = 0
	}
	var buf bytes.Buffer
	_, err = buf.ReadFrom(io.NewSectionReader(f, off, fi.Size()-off))
	if err != nil {
		return ""
	}
	return buf.String()
}
