// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package search

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kortschak/seqsearch/slurm"
)

// Unsplit is the Job index of a search over a whole collection.
const Unsplit = -1

// Job is a single dispatchable search. Jobs are built once and
// are not modified after they have been handed to a dispatcher.
type Job struct {
	// Index is the chunk index of the query, or Unsplit.
	Index int

	Backend   Backend
	Algorithm Algorithm

	// Query is the path to the query sequences.
	Query string
	// Database is the database searched.
	Database Database
	// Params are the translated and override flags.
	Params Params
	// Out is the path of the output file.
	Out string
	// Threads is the number of threads given to the backend.
	Threads int
	// Executable overrides the program named by Algorithm.
	Executable string

	// Stdout and Stderr are optional capture paths for
	// the program's standard streams.
	Stdout string
	Stderr string

	// Batch holds the batch queue resource requests
	// for a job submitted to SLURM.
	Batch *slurm.Params
}

// Args renders the job into an argument vector.
func (j Job) Args() ([]string, error) {
	if j.Backend == nil {
		return nil, errors.New("search: job has no backend")
	}
	return j.Backend.Args(j)
}

// Command returns the job's command with the program resolved
// on the host. The standard streams are not connected.
func (j Job) Command() (*exec.Cmd, error) {
	args, err := j.Args()
	if err != nil {
		return nil, err
	}
	path, err := Resolve(args[0])
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(path, args[1:]...)
	cmd.Args[0] = args[0]
	return cmd, nil
}

// String returns a short description of the job.
func (j Job) String() string {
	if j.Index == Unsplit {
		return fmt.Sprintf("%s search of %s", j.Algorithm, j.Query)
	}
	return fmt.Sprintf("%s search of chunk %d (%s)", j.Algorithm, j.Index, j.Query)
}

// Resolve returns the path of the named executable, returning an
// *ExecutableNotFoundError if it cannot be found.
func Resolve(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", &ExecutableNotFoundError{Name: name, Err: err}
	}
	return path, nil
}

// OutPath returns the output path for a search of query. An empty out
// places the output next to the query with the extension ext replacing
// the query's extension. An out that names a directory, or ends with a
// path separator, places the output in that directory. Any other out is
// returned unaltered.
func OutPath(query, out, ext string) string {
	name := strings.TrimSuffix(filepath.Base(query), filepath.Ext(query)) + "." + ext
	switch {
	case out == "":
		return filepath.Join(filepath.Dir(query), name)
	case strings.HasSuffix(out, string(filepath.Separator)) || strings.HasSuffix(out, "/"):
		return filepath.Join(out, name)
	}
	fi, err := os.Stat(out)
	if err == nil && fi.IsDir() {
		return filepath.Join(out, name)
	}
	return out
}
