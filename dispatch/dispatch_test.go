// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kortschak/seqsearch/blast"
	"github.com/kortschak/seqsearch/search"
)

// fakeBlast writes one tabular line per query record and fails
// if the query contains a record named fail.
const fakeBlast = `#!/bin/sh
while [ $# -gt 0 ]; do
	case "$1" in
	-query) query="$2"; shift;;
	-out) out="$2"; shift;;
	esac
	shift
done
if grep -q '^>fail' "$query"; then
	echo "boom: cannot search $query" >&2
	exit 3
fi
if grep -q '^>slow' "$query"; then
	sleep 30
fi
awk '/^>/ { print substr($1, 2) "\thit\t100.000" }' "$query" > "$out"
`

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(body), 0o755)
	if err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// makeJobs returns a job for each set of record names.
func makeJobs(t *testing.T, dir, exe string, records ...[]string) []search.Job {
	t.Helper()
	b, err := search.For(search.BLAST)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var jobs []search.Job
	for i, names := range records {
		var buf strings.Builder
		for _, n := range names {
			fmt.Fprintf(&buf, ">%s\nACGT\n", n)
		}
		query := filepath.Join(dir, fmt.Sprintf("query-%02d.fasta", i))
		err := os.WriteFile(query, []byte(buf.String()), 0o644)
		if err != nil {
			t.Fatalf("failed to write query: %v", err)
		}
		jobs = append(jobs, search.Job{
			Index:      i,
			Backend:    b,
			Algorithm:  blast.Blastn,
			Query:      query,
			Database:   search.Database{Path: filepath.Join(dir, "db"), Type: search.Nucleotide},
			Out:        search.OutPath(query, "", b.Extension()),
			Threads:    1,
			Executable: exe,
			Stderr:     search.OutPath(query, "", b.Extension()) + ".stderr",
		})
	}
	return jobs
}

type recorder struct {
	mu     sync.Mutex
	states map[int][]State
}

func (r *recorder) Record(j search.Job, s State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states == nil {
		r.states = make(map[int][]State)
	}
	r.states[j.Index] = append(r.states[j.Index], s)
}

func TestLocalRunAll(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "blastn", fakeBlast)
	jobs := makeJobs(t, dir, exe,
		[]string{"a", "b", "c"},
		[]string{"d", "e", "f"},
		[]string{"g", "h", "i"},
		[]string{"j"},
	)
	var rec recorder
	err := RunAll(context.Background(), &Local{}, jobs, &rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, j := range jobs {
		b, err := os.ReadFile(j.Out)
		if err != nil {
			t.Errorf("missing output for chunk %d: %v", j.Index, err)
			continue
		}
		if n := strings.Count(string(b), "\n"); n == 0 {
			t.Errorf("empty output for chunk %d", j.Index)
		}
		got := rec.states[j.Index]
		want := []State{Running, Completed}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("unexpected recorded states for chunk %d: got:%v want:%v", j.Index, got, want)
		}
	}
}

func TestLocalLimit(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "blastn", fakeBlast)
	jobs := makeJobs(t, dir, exe, []string{"a"}, []string{"b"}, []string{"c"})
	err := RunAll(context.Background(), &Local{Limit: 1}, jobs, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, j := range jobs {
		if _, err := os.Stat(j.Out); err != nil {
			t.Errorf("missing output for chunk %d: %v", j.Index, err)
		}
	}
}

func TestLocalFailure(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "blastn", fakeBlast)
	jobs := makeJobs(t, dir, exe,
		[]string{"a", "b"},
		[]string{"c", "d"},
		[]string{"fail", "e"},
		[]string{"f"},
	)
	err := RunAll(context.Background(), &Local{}, jobs, nil)
	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RunError: got:%v", err)
	}
	if len(re.Failed) != 1 || re.Failed[0].Index != 2 {
		t.Fatalf("unexpected failed jobs: %v", err)
	}
	f := re.Failed[0]
	if !strings.Contains(f.Tail, "boom") {
		t.Errorf("stderr tail not captured: %q", f.Tail)
	}
	b, err := os.ReadFile(f.Stderr)
	if err != nil {
		t.Errorf("stderr file not written: %v", err)
	} else if !strings.Contains(string(b), "boom") {
		t.Errorf("unexpected stderr file contents: %q", b)
	}
	for _, j := range jobs {
		if j.Index == 2 {
			continue
		}
		if _, err := os.Stat(j.Out); err != nil {
			t.Errorf("sibling of failed job did not complete: chunk %d: %v", j.Index, err)
		}
	}
}

func TestLocalSingle(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "blastn", fakeBlast)
	jobs := makeJobs(t, dir, exe, []string{"a", "b", "c"})
	jobs[0].Index = search.Unsplit
	var rec recorder
	err := RunAll(context.Background(), &Local{}, jobs, &rec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := os.ReadFile(jobs[0].Out)
	if err != nil {
		t.Fatalf("missing output: %v", err)
	}
	want := "a\thit\t100.000\nb\thit\t100.000\nc\thit\t100.000\n"
	if string(b) != want {
		t.Errorf("unexpected output: got:%q want:%q", b, want)
	}
	if got := fmt.Sprint(rec.states[search.Unsplit]); got != "[running completed]" {
		t.Errorf("unexpected recorded states: %s", got)
	}

	jobs[0].Query = filepath.Join(dir, "missing.fasta")
	err = RunAll(context.Background(), &Local{}, jobs, nil)
	var re *RunError
	if !errors.As(err, &re) || len(re.Failed) != 1 {
		t.Errorf("expected single job failure: got:%v", err)
	}
}

func TestLocalCancel(t *testing.T) {
	dir := t.TempDir()
	exe := writeScript(t, dir, "blastn", fakeBlast)
	jobs := makeJobs(t, dir, exe, []string{"a"}, []string{"slow"}, []string{"slow"})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := RunAll(ctx, &Local{}, jobs, nil)
	if time.Since(start) > 20*time.Second {
		t.Errorf("cancelled run did not terminate processes")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded: got:%v", err)
	}
	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RunError: got:%T", err)
	}
	for _, f := range re.Failed {
		if f.Index == 0 {
			t.Errorf("completed job reported as failed: %v", f)
		}
	}
	if _, err := os.Stat(jobs[0].Out); err != nil {
		t.Errorf("completed output removed: %v", err)
	}
}

func TestStartNotFound(t *testing.T) {
	dir := t.TempDir()
	jobs := makeJobs(t, dir, filepath.Join(dir, "no-such-blastn"), []string{"a"})
	_, err := (&Local{}).Start(context.Background(), jobs[0])
	var nf *search.ExecutableNotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected executable not found error: got:%v", err)
	}
}

const (
	fakeSbatch = `#!/bin/sh
echo "$@" >> %[1]s/sbatch.args
echo "4321;cluster"
`
	fakeSacct = `#!/bin/sh
echo "$@" >> %[1]s/sacct.args
cat %[1]s/state
`
	fakeScancel = `#!/bin/sh
echo "$@" >> %[1]s/scancel.args
`
)

func fakeSlurm(t *testing.T, dir, state string) *Batch {
	t.Helper()
	err := os.WriteFile(filepath.Join(dir, "state"), []byte(state+"\n"), 0o644)
	if err != nil {
		t.Fatalf("failed to write state: %v", err)
	}
	return &Batch{
		Name:    "seqsearch-test",
		Sbatch:  writeScript(t, dir, "sbatch", fmt.Sprintf(fakeSbatch, dir)),
		Sacct:   writeScript(t, dir, "sacct", fmt.Sprintf(fakeSacct, dir)),
		Scancel: writeScript(t, dir, "scancel", fmt.Sprintf(fakeScancel, dir)),
		Poll:    10 * time.Millisecond,
	}
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	b := fakeSlurm(t, dir, "COMPLETED")
	jobs := makeJobs(t, dir, "blastn", []string{"a"}, []string{"b"})
	err := RunAll(context.Background(), b, jobs, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	args, err := os.ReadFile(filepath.Join(dir, "sbatch.args"))
	if err != nil {
		t.Fatalf("sbatch not run: %v", err)
	}
	for _, want := range []string{
		"--parsable",
		"--job-name=seqsearch-test-00",
		"--job-name=seqsearch-test-01",
		"--cpus-per-task 1",
		"--wrap blastn -query " + jobs[0].Query,
	} {
		if !strings.Contains(string(args), want) {
			t.Errorf("sbatch arguments missing %q:\n%s", want, args)
		}
	}
	args, err = os.ReadFile(filepath.Join(dir, "sacct.args"))
	if err != nil {
		t.Fatalf("sacct not run: %v", err)
	}
	if !strings.Contains(string(args), "-j 4321 --format=State") {
		t.Errorf("unexpected sacct arguments:\n%s", args)
	}
}

func TestBatchFailure(t *testing.T) {
	dir := t.TempDir()
	b := fakeSlurm(t, dir, "FAILED")
	jobs := makeJobs(t, dir, "blastn", []string{"a"}, []string{"b"})
	err := os.WriteFile(jobs[1].Stderr, []byte("out of memory\n"), 0o644)
	if err != nil {
		t.Fatalf("failed to write stderr: %v", err)
	}
	err = RunAll(context.Background(), b, jobs, nil)
	var re *RunError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RunError: got:%v", err)
	}
	if len(re.Failed) != 2 {
		t.Fatalf("unexpected number of failures: %v", err)
	}
	if !strings.Contains(re.Failed[1].Tail, "out of memory") {
		t.Errorf("stderr tail not read: %q", re.Failed[1].Tail)
	}
}

func TestBatchCancel(t *testing.T) {
	dir := t.TempDir()
	b := fakeSlurm(t, dir, "RUNNING")
	jobs := makeJobs(t, dir, "blastn", []string{"a"})
	h, err := b.Start(context.Background(), jobs[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = h.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected wait to time out: got:%v", err)
	}
	if h.State() != Running {
		t.Errorf("unexpected state after wait timeout: %v", h.State())
	}
	h.Cancel()
	err = h.Wait(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled job: got:%v", err)
	}
	if h.State() != Failed {
		t.Errorf("unexpected state after cancel: %v", h.State())
	}
	args, err := os.ReadFile(filepath.Join(dir, "scancel.args"))
	if err != nil || strings.TrimSpace(string(args)) != "4321" {
		t.Errorf("scancel not run for job: %q %v", args, err)
	}
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 8}
	for _, s := range []string{"abc", "defg", "hijkl"} {
		fmt.Fprint(b, s)
	}
	if got := b.String(); got != "efghijkl" {
		t.Errorf("unexpected tail: got:%q want:%q", got, "efghijkl")
	}
	fmt.Fprint(b, "0123456789")
	if got := b.String(); got != "23456789" {
		t.Errorf("unexpected tail: got:%q want:%q", got, "23456789")
	}
}
