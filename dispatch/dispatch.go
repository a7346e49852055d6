// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dispatch runs search jobs as local processes or as
// SLURM batch jobs and collects their terminal states.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kortschak/seqsearch/search"
)

// State is the run state of a dispatched job.
type State int

const (
	NotStarted State = iota
	Running
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal returns whether s is a final state.
func (s State) Terminal() bool { return s == Completed || s == Failed }

// Handle is a dispatched job.
type Handle interface {
	// Job returns the job that was dispatched.
	Job() search.Job

	// State returns the current state of the job.
	State() State

	// Wait blocks until the job reaches a terminal state or
	// ctx is done. Cancelling ctx stops the wait, not the job.
	// Wait returns a *JobExecutionError if the job failed.
	Wait(ctx context.Context) error

	// Cancel requests termination of the job. It does not wait
	// for the job to reach a terminal state.
	Cancel()
}

// Dispatcher starts jobs.
type Dispatcher interface {
	// Start dispatches j without waiting for it to complete.
	// If ctx is cancelled the job is terminated.
	Start(ctx context.Context, j search.Job) (Handle, error)
}

// Recorder is notified of job state changes.
type Recorder interface {
	Record(j search.Job, s State, err error)
}

// JobExecutionError is the failure of a single dispatched job.
type JobExecutionError struct {
	// Index is the chunk index of the failed job.
	Index int
	// Job is a description of the job.
	Job string
	// Stderr is the path of the job's captured standard
	// error, if it was captured to a file.
	Stderr string
	// Tail holds the last bytes written to standard error.
	Tail string
	// Err is the underlying cause.
	Err error
}

func (e *JobExecutionError) Error() string {
	var buf strings.Builder
	if e.Index == search.Unsplit {
		fmt.Fprintf(&buf, "%s failed: %v", e.Job, e.Err)
	} else {
		fmt.Fprintf(&buf, "chunk %d: %s failed: %v", e.Index, e.Job, e.Err)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&buf, " (stderr in %s)", e.Stderr)
	}
	if tail := strings.TrimSpace(e.Tail); tail != "" {
		fmt.Fprintf(&buf, ": %s", tail)
	}
	return buf.String()
}

func (e *JobExecutionError) Unwrap() error { return e.Err }

// RunError is the aggregate failure of a set of jobs.
type RunError struct {
	// Jobs is the number of jobs in the run.
	Jobs int
	// Failed holds the failures ordered by chunk index.
	Failed []*JobExecutionError
	// Err is non-nil if the run was cancelled.
	Err error
}

func (e *RunError) Error() string {
	idx := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		idx[i] = fmt.Sprint(f.Index)
	}
	var msg string
	switch {
	case len(e.Failed) == 0:
		msg = fmt.Sprintf("run of %d jobs did not complete", e.Jobs)
	case len(e.Failed) == 1:
		msg = e.Failed[0].Error()
	default:
		msg = fmt.Sprintf("%d of %d jobs failed: chunks %s", len(e.Failed), e.Jobs, strings.Join(idx, ", "))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RunError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed)+1)
	for _, f := range e.Failed {
		errs = append(errs, f)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// RunAll dispatches every job with d and waits for all of them to reach
// a terminal state. A failed job does not stop its siblings. If any job
// fails, RunAll returns a *RunError describing every failure. If ctx is
// cancelled, in-flight jobs are terminated and a *RunError wrapping the
// context's error is returned. A single job dispatched by a *Local is
// run directly in the calling goroutine. State changes are reported to
// rec if it is not nil.
func RunAll(ctx context.Context, d Dispatcher, jobs []search.Job, rec Recorder) error {
	if rec == nil {
		rec = discard{}
	}
	if l, ok := d.(*Local); ok && len(jobs) == 1 {
		j := jobs[0]
		rec.Record(j, Running, nil)
		err := l.Run(ctx, j)
		if err != nil {
			rec.Record(j, Failed, err)
			return runError(len(jobs), []error{err}, ctx.Err())
		}
		rec.Record(j, Completed, nil)
		return nil
	}

	var (
		handles = make([]Handle, 0, len(jobs))
		errs    []error
	)
	for _, j := range jobs {
		h, err := d.Start(ctx, j)
		if err != nil {
			err = &JobExecutionError{Index: j.Index, Job: j.String(), Stderr: j.Stderr, Err: err}
			rec.Record(j, Failed, err)
			errs = append(errs, err)
			continue
		}
		rec.Record(j, Running, nil)
		handles = append(handles, h)
	}

	var cancelled error
	for _, h := range handles {
		err := h.Wait(ctx)
		if err != nil && ctx.Err() != nil && !h.State().Terminal() {
			cancelled = ctx.Err()
			break
		}
	}
	if cancelled != nil {
		for _, h := range handles {
			h.Cancel()
		}
		// Terminated jobs must reach a terminal state before
		// the run can be reported as stopped.
		for _, h := range handles {
			h.Wait(context.Background())
		}
	}
	for _, h := range handles {
		err := h.Wait(context.Background())
		if err != nil {
			rec.Record(h.Job(), Failed, err)
			errs = append(errs, err)
			continue
		}
		rec.Record(h.Job(), Completed, nil)
	}
	if len(errs) != 0 && cancelled == nil {
		cancelled = ctx.Err()
	}
	if len(errs) != 0 || cancelled != nil {
		return runError(len(jobs), errs, cancelled)
	}
	return nil
}

func runError(n int, errs []error, cause error) error {
	re := &RunError{Jobs: n, Err: cause}
	for _, err := range errs {
		var je *JobExecutionError
		if errors.As(err, &je) {
			re.Failed = append(re.Failed, je)
			continue
		}
		re.Failed = append(re.Failed, &JobExecutionError{Index: search.Unsplit, Job: "job", Err: err})
	}
	sort.SliceStable(re.Failed, func(i, j int) bool { return re.Failed[i].Index < re.Failed[j].Index })
	return re
}

type discard struct{}

func (discard) Record(search.Job, State, error) {}
