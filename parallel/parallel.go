// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package parallel runs a sequence similarity search by splitting the
// query collection into chunks, searching each chunk as an independent
// job and joining the chunk outputs into a single result.
package parallel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/biogo/biogo/alphabet"
	"github.com/google/uuid"

	"github.com/kortschak/seqsearch/dispatch"
	"github.com/kortschak/seqsearch/internal/store"
	"github.com/kortschak/seqsearch/join"
	"github.com/kortschak/seqsearch/search"
	"github.com/kortschak/seqsearch/slurm"
	"github.com/kortschak/seqsearch/split"
)

// LedgerName is the name of the job ledger written to the chunk directory.
const LedgerName = "jobs.db"

// Config describes a parallel search.
type Config struct {
	// Input is the path of the FASTA query collection.
	Input string
	// QueryType is the sequence type of the queries.
	QueryType search.SeqType
	// Database is the database searched.
	Database search.Database

	// Backend is the search tool.
	Backend search.Kind
	// Executable overrides the backend program.
	Executable string

	// Threads is the total number of threads available.
	// If Threads is zero, the number of CPUs is used.
	Threads int
	// Sizing is the chunk sizing strategy.
	Sizing split.Sizing
	// Rewrap is the sequence line width of chunk files.
	// If zero, records are copied verbatim.
	Rewrap int
	// IndexParts specifies that chunk files are indexed.
	IndexParts bool
	// PartsDir is the directory chunk files are written
	// to. If empty a new directory is created beside
	// the output.
	PartsDir string
	// KeepParts specifies that chunk files and outputs
	// are retained after a successful run.
	KeepParts bool

	// Filter is the backend independent result filter.
	Filter search.Filter
	// Params are raw backend flags. They follow the
	// translated filter flags.
	Params search.Params
	// Cull specifies that hits contained on the query by a
	// higher scoring hit to the same query are removed from
	// tabular results.
	Cull bool

	// Out is the output destination. It may be empty,
	// a directory or a file path.
	Out string
	// CaptureStdout and CaptureStderr specify that each
	// job's standard streams are written beside its output.
	CaptureStdout bool
	CaptureStderr bool
	// Verify specifies that a joined BLAST XML report
	// is decoded after joining.
	Verify bool

	// Batch, if not nil, holds the SLURM resource requests
	// for jobs. If nil, jobs are run locally.
	Batch *slurm.Params
	// Poll is the SLURM job state polling interval.
	Poll time.Duration
	// Sbatch, Sacct and Scancel override the SLURM commands.
	Sbatch, Sacct, Scancel string

	// Logger receives progress messages. A nil Logger discards.
	Logger *log.Logger
	// Stderr, if not nil, receives the standard error of
	// locally run jobs.
	Stderr io.Writer
}

// Search is a validated parallel search.
type Search struct {
	cfg Config

	backend   search.Backend
	algorithm search.Algorithm
	params    search.Params
	format    search.Format
	filter    *search.LineFilter
	cull      *search.Culling

	collection *split.Collection
	spans      []split.Span
	out        string

	logger *log.Logger
}

// New returns a Search for cfg. All configuration errors, including an
// unresolvable backend executable, are reported by New before any file
// is written or process started.
func New(cfg Config) (*Search, error) {
	if cfg.Input == "" {
		return nil, search.Configf("no input collection")
	}
	if cfg.Database.Path == "" {
		return nil, search.Configf("no database")
	}
	if cfg.Threads < 0 {
		return nil, search.Configf("negative thread count: %d", cfg.Threads)
	}
	if cfg.Rewrap < 0 {
		return nil, search.Configf("negative line width: %d", cfg.Rewrap)
	}
	err := cfg.Sizing.Validate()
	if err != nil {
		return nil, err
	}

	s := &Search{cfg: cfg, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	s.backend, err = search.For(cfg.Backend)
	if err != nil {
		return nil, err
	}
	s.algorithm, err = s.backend.Algorithm(cfg.QueryType, cfg.Database.Type)
	if err != nil {
		return nil, err
	}
	s.out = search.OutPath(cfg.Input, cfg.Out, s.backend.Extension())
	params := search.DefaultParams(cfg.Backend, s.out, cfg.Params)
	s.params, err = s.backend.Translate(cfg.Filter, params)
	if err != nil {
		return nil, err
	}
	s.format, err = s.backend.Format(s.params)
	if err != nil {
		return nil, err
	}
	s.filter, err = s.backend.PostFilter(cfg.Filter, s.params)
	if err != nil {
		return nil, err
	}
	if cfg.Cull {
		s.cull, err = search.CullColumns(cfg.Backend, s.params)
		if err != nil {
			return nil, err
		}
	}

	s.collection, err = split.Open(cfg.Input)
	if err != nil {
		return nil, err
	}
	s.spans, err = cfg.Sizing.Plan(s.collection, cfg.Threads)
	if err != nil {
		return nil, err
	}
	if len(s.spans) > 1 && s.format == search.Opaque {
		return nil, search.Configf("output format of %s cannot be joined: use a tabular or XML format, or a single part", s.algorithm)
	}

	// Resolve the program that will run the jobs.
	if cfg.Batch != nil {
		name := cfg.Sbatch
		if name == "" {
			name = "sbatch"
		}
		_, err = search.Resolve(name)
	} else {
		var args []string
		args, err = s.job(search.Unsplit, cfg.Input, s.out).Args()
		if err == nil {
			_, err = search.Resolve(args[0])
		}
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Out returns the path of the combined result.
func (s *Search) Out() string { return s.out }

// Algorithm returns the backend program variant used by the search.
func (s *Search) Algorithm() search.Algorithm { return s.algorithm }

// Parts returns the number of chunks the search will run.
func (s *Search) Parts() int { return len(s.spans) }

func (s *Search) job(index int, query, out string) search.Job {
	j := search.Job{
		Index:      index,
		Backend:    s.backend,
		Algorithm:  s.algorithm,
		Query:      query,
		Database:   s.cfg.Database,
		Params:     s.params,
		Out:        out,
		Threads:    1,
		Executable: s.cfg.Executable,
		Batch:      s.cfg.Batch,
	}
	if index == search.Unsplit {
		j.Threads = s.cfg.Threads
		if j.Threads <= 0 {
			j.Threads = split.DefaultParts(0)
		}
	}
	if s.cfg.CaptureStdout {
		j.Stdout = out + ".stdout"
	}
	if s.cfg.CaptureStderr {
		j.Stderr = out + ".stderr"
	}
	return j
}

func (s *Search) dispatcher(run string) dispatch.Dispatcher {
	if s.cfg.Batch != nil {
		return &dispatch.Batch{
			Params:  *s.cfg.Batch,
			Name:    "seqsearch-" + run[:8],
			Sbatch:  s.cfg.Sbatch,
			Sacct:   s.cfg.Sacct,
			Scancel: s.cfg.Scancel,
			Poll:    s.cfg.Poll,
			Logger:  s.logger,
		}
	}
	return &dispatch.Local{Stderr: s.cfg.Stderr, Logger: s.logger}
}

// Run performs the search, returning the path of the combined result.
// If any job fails, Run returns a *dispatch.RunError and no combined
// result is written. Chunk files and outputs are left in place after a
// failure.
func (s *Search) Run(ctx context.Context) (string, error) {
	run := uuid.NewString()
	s.logger.Printf("run %s: %s search of %s against %s in %d parts", run, s.algorithm, s.cfg.Input, s.cfg.Database.Path, len(s.spans))
	d := s.dispatcher(run)

	if len(s.spans) == 1 {
		return s.runSingle(ctx, d, run)
	}

	dir, created, err := s.partsDir()
	if err != nil {
		return "", err
	}
	s.logger.Printf("splitting %s into %s", s.cfg.Input, dir)
	chunks, err := split.Split(s.collection, dir, s.cfg.Sizing, s.cfg.Threads, split.Options{
		Width:    s.cfg.Rewrap,
		Alphabet: s.alphabet(),
		Index:    s.cfg.IndexParts,
	})
	if err != nil {
		if created {
			os.Remove(dir)
		}
		return "", err
	}
	s.logger.Print(split.Summarize(chunks))

	jobs := make([]search.Job, len(chunks))
	outs := make([]string, len(chunks))
	for i, c := range chunks {
		outs[i] = search.OutPath(c.Path, "", s.backend.Extension())
		jobs[i] = s.job(c.Index, c.Path, outs[i])
	}

	ledger, err := store.Open(filepath.Join(dir, LedgerName))
	if err != nil {
		return "", err
	}
	rec := &recorder{ledger: ledger, run: run, logger: s.logger}
	for _, j := range jobs {
		rec.Record(j, dispatch.NotStarted, nil)
	}
	err = dispatch.RunAll(ctx, d, jobs, rec)
	cerr := ledger.Close()
	if err != nil {
		s.logger.Printf("run %s failed: chunk files retained in %s", run, dir)
		return "", err
	}
	if cerr != nil {
		return "", cerr
	}

	s.logger.Printf("joining %d outputs into %s", len(outs), s.out)
	err = join.Files(s.out, outs, s.format)
	if err != nil {
		return "", err
	}
	err = s.finish()
	if err != nil {
		return "", err
	}

	if s.cfg.KeepParts {
		s.logger.Printf("keeping chunk files in %s", dir)
		return s.out, nil
	}
	err = s.clean(dir, created, chunks, jobs)
	if err != nil {
		s.logger.Printf("failed to remove chunk files: %v", err)
	}
	return s.out, nil
}

// runSingle searches the whole input as one job. The job writes to a
// hidden file beside the result that is renamed into place only if the
// job succeeds. The output of a failed job is kept with a .failed suffix.
func (s *Search) runSingle(ctx context.Context, d dispatch.Dispatcher, run string) (string, error) {
	pending := filepath.Join(filepath.Dir(s.out), "."+filepath.Base(s.out)+"."+run[:8])
	j := s.job(search.Unsplit, s.cfg.Input, pending)
	if j.Stdout != "" {
		j.Stdout = s.out + ".stdout"
	}
	if j.Stderr != "" || s.cfg.Batch != nil {
		j.Stderr = s.out + ".stderr"
	}
	err := dispatch.RunAll(ctx, d, []search.Job{j}, nil)
	if err != nil {
		failed := s.out + ".failed"
		if rerr := os.Rename(pending, failed); rerr == nil {
			s.logger.Printf("run %s failed: partial output retained in %s", run, failed)
		}
		return "", err
	}
	err = os.Rename(pending, s.out)
	if err != nil {
		return "", err
	}
	err = s.finish()
	if err != nil {
		return "", err
	}
	return s.out, nil
}

// finish applies post-hoc filtering, culling and verification to the result.
func (s *Search) finish() error {
	if s.filter != nil {
		kept, removed, err := join.FilterLines(s.out, s.filter)
		if err != nil {
			return err
		}
		s.logger.Printf("filtered %s: kept %d lines, removed %d", s.out, kept, removed)
	}
	if s.cull != nil {
		kept, removed, err := join.CullContained(s.out, s.cull)
		if err != nil {
			return err
		}
		s.logger.Printf("culled %s: kept %d hits, removed %d contained hits", s.out, kept, removed)
	}
	if s.cfg.Verify && s.format == search.BlastXML {
		n, err := join.VerifyXML(s.out)
		if err != nil {
			return err
		}
		s.logger.Printf("verified %s: %d iterations", s.out, n)
	}
	return nil
}

// partsDir returns the directory for chunk files and whether it was
// created by the search.
func (s *Search) partsDir() (dir string, created bool, err error) {
	if s.cfg.PartsDir != "" {
		err = os.MkdirAll(s.cfg.PartsDir, 0o755)
		return s.cfg.PartsDir, false, err
	}
	base := strings.TrimSuffix(filepath.Base(s.out), filepath.Ext(s.out))
	dir, err = os.MkdirTemp(filepath.Dir(s.out), base+".parts-*")
	return dir, err == nil, err
}

func (s *Search) alphabet() alphabet.Alphabet {
	if s.cfg.QueryType == search.Protein {
		return alphabet.Protein
	}
	return alphabet.DNAredundant
}

// clean removes the intermediate files of a successful run.
func (s *Search) clean(dir string, created bool, chunks []split.Chunk, jobs []search.Job) error {
	var errs []error
	errs = append(errs, split.Remove(chunks))
	for _, j := range jobs {
		for _, p := range []string{j.Out, j.Stdout, j.Stderr} {
			if p == "" {
				continue
			}
			err := os.Remove(p)
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
	}
	err := os.Remove(filepath.Join(dir, LedgerName))
	if !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if created {
		errs = append(errs, os.RemoveAll(dir))
	}
	return errors.Join(errs...)
}

// recorder writes job state changes to the run's ledger.
type recorder struct {
	ledger *store.Ledger
	run    string
	logger *log.Logger
}

func (r *recorder) Record(j search.Job, state dispatch.State, err error) {
	args, _ := j.Args()
	rec := store.Record{
		Run:     r.run,
		Index:   j.Index,
		State:   state.String(),
		Query:   j.Query,
		Out:     j.Out,
		Args:    args,
		Stderr:  j.Stderr,
		Updated: time.Now().UTC(),
	}
	if err != nil {
		rec.Err = err.Error()
	}
	perr := r.ledger.Put(rec)
	if perr != nil {
		r.logger.Printf("failed to record %v: %v", j, perr)
	}
	if state.Terminal() {
		r.logger.Printf("%v: %s", j, state)
	}
}

// String returns a description of the search.
func (s *Search) String() string {
	return fmt.Sprintf("%s %s vs %s (%v) -> %s", s.algorithm, s.cfg.Input, s.cfg.Database.Path, s.cfg.Database.Type, s.out)
}
