// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package slurm provides types for submitting, polling and cancelling
// SLURM batch jobs that wrap a single command line.
package slurm

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/biogo/external"
)

// Params are the resource requests attached to each submitted job.
type Params struct {
	Partition string   `mapstructure:"partition"`
	Time      string   `mapstructure:"time"`
	QOS       string   `mapstructure:"qos"`
	Account   string   `mapstructure:"account"`
	Mem       string   `mapstructure:"mem"`
	Extra     []string `mapstructure:"extra"`
}

// Sbatch submits a wrapped command line.
type Sbatch struct {
	// Usage: sbatch --parsable [options] --wrap <command>
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}sbatch{{end}}"` // sbatch

	Parsable  bool   `buildarg:"{{if .}}--parsable{{end}}"`                    // --parsable
	JobName   string `buildarg:"{{with .}}--job-name={{.}}{{end}}"`            // --job-name=<s>
	Output    string `buildarg:"{{with .}}--output={{.}}{{end}}"`              // --output=<s>
	Error     string `buildarg:"{{with .}}--error={{.}}{{end}}"`               // --error=<s>
	Partition string `buildarg:"{{with .}}--partition={{.}}{{end}}"`           // --partition=<s>
	Time      string `buildarg:"{{with .}}--time={{.}}{{end}}"`                // --time=<s>
	QOS       string `buildarg:"{{with .}}--qos={{.}}{{end}}"`                 // --qos=<s>
	Account   string `buildarg:"{{with .}}--account={{.}}{{end}}"`             // --account=<s>
	Mem       string `buildarg:"{{with .}}--mem={{.}}{{end}}"`                 // --mem=<s>
	CPUs      int    `buildarg:"{{if .}}--cpus-per-task{{split}}{{.}}{{end}}"` // --cpus-per-task <n>

	// Extra flags are passed to sbatch before the wrapped command.
	Extra []string

	// Wrap is the argument vector of the job's command.
	Wrap []string
}

// NewSbatch returns an Sbatch for the given parameters.
func NewSbatch(p Params) Sbatch {
	return Sbatch{
		Parsable:  true,
		Partition: p.Partition,
		Time:      p.Time,
		QOS:       p.QOS,
		Account:   p.Account,
		Mem:       p.Mem,
		Extra:     p.Extra,
	}
}

func (s Sbatch) BuildCommand() (*exec.Cmd, error) {
	if len(s.Wrap) == 0 {
		return nil, errors.New("sbatch: missing command")
	}
	cl := external.Must(external.Build(s))
	cl = append(cl, s.Extra...)
	cl = append(cl, "--wrap", Quote(s.Wrap))
	return exec.Command(cl[0], cl[1:]...), nil
}

// ParseJobID returns the job ID from the output of sbatch --parsable.
func ParseJobID(out []byte) (string, error) {
	line := bytes.TrimSpace(out)
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = bytes.TrimSpace(line[:i])
	}
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	if len(line) == 0 {
		return "", errors.New("sbatch: no job id returned")
	}
	for _, c := range line {
		if (c < '0' || c > '9') && c != '_' {
			return "", fmt.Errorf("sbatch: invalid job id %q", line)
		}
	}
	return string(line), nil
}

// Sacct queries the accounting state of a job.
type Sacct struct {
	// Usage: sacct -n -X -P -j <id> --format=State
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}sacct{{end}}"` // sacct

	JobID string `buildarg:"-n{{split}}-X{{split}}-P{{split}}-j{{split}}{{.}}{{split}}--format=State"` // -n -X -P -j <id> --format=State
}

func (s Sacct) BuildCommand() (*exec.Cmd, error) {
	if s.JobID == "" {
		return nil, errors.New("sacct: missing job id")
	}
	cl := external.Must(external.Build(s))
	return exec.Command(cl[0], cl[1:]...), nil
}

// Scancel cancels a job.
type Scancel struct {
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}scancel{{end}}"` // scancel

	JobID string `buildarg:"{{.}}"` // <id>
}

func (s Scancel) BuildCommand() (*exec.Cmd, error) {
	if s.JobID == "" {
		return nil, errors.New("scancel: missing job id")
	}
	cl := external.Must(external.Build(s))
	return exec.Command(cl[0], cl[1:]...), nil
}

// State is a SLURM job state as reported by sacct.
type State string

// ParseState returns the state reported in sacct output. Empty
// output means the job is not yet known to accounting and is
// reported as PENDING.
func ParseState(out []byte) State {
	line := bytes.TrimSpace(out)
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = bytes.TrimSpace(line[:i])
	}
	f := bytes.Fields(line)
	if len(f) == 0 {
		return "PENDING"
	}
	// "CANCELLED by 1234" and "CANCELLED+" both start with the state.
	return State(strings.TrimSuffix(string(f[0]), "+"))
}

// Done returns whether the state is terminal.
func (s State) Done() bool {
	switch s {
	case "PENDING", "RUNNING", "REQUEUED", "RESIZING", "SUSPENDED",
		"COMPLETING", "CONFIGURING", "STAGE_OUT", "SIGNALING", "REQUEUE_HOLD", "REQUEUE_FED":
		return false
	}
	return true
}

// OK returns whether the job completed successfully.
func (s State) OK() bool { return s == "COMPLETED" }

// Quote returns args as a single POSIX shell command line.
func Quote(args []string) string { return shellescape.QuoteCommand(args) }
