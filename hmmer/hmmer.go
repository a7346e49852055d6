// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hmmer provides types for invoking HMMER profile searches.
package hmmer

import (
	"errors"
	"os"
	"os/exec"
	"text/template"

	"github.com/biogo/external"
)

// Programs of the HMMER suite.
const (
	Hmmsearch = "hmmsearch" // protein profiles against protein sequences
	Nhmmer    = "nhmmer"    // nucleotide profiles against nucleotide sequences
)

// Search is a profile search of a sequence file writing a
// per-target tabular report. The main human-readable report
// is discarded.
//
// HMMER stops option parsing at the first positional argument,
// so Params are placed before the profile and sequence files.
type Search struct {
	// Usage: hmmsearch [options] <hmmfile> <seqfile>
	//
	// For details relating to options and parameters, see the HMMER manual.
	//
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}hmmsearch{{end}}"` // hmmsearch or nhmmer

	Out       string `buildarg:"-o{{split}}{{devnull}}{{split}}--tblout{{split}}{{.}}"` // -o /dev/null --tblout <s>
	Seed      int    `buildarg:"--seed{{split}}{{.}}"`                                  // --seed <n>
	Threads   int    `buildarg:"{{if .}}--cpu{{split}}{{.}}{{end}}"`                    // --cpu <n>
	NoTextW   bool   `buildarg:"{{if .}}--notextw{{end}}"`                              // --notextw
	Accession bool   `buildarg:"{{if .}}--acc{{end}}"`                                  // --acc

	// Params are passed through to HMMER after the
	// fixed options above, in order.
	Params []string

	// Profiles is the HMM database and Query the
	// sequence file searched.
	Profiles string
	Query    string
}

// New returns a Search with the fixed options used for
// all searches: seed 1, unlimited line width and accessions.
func New(cmd, profiles, query, out string, threads int) Search {
	return Search{
		Cmd:       cmd,
		Out:       out,
		Seed:      1,
		Threads:   threads,
		NoTextW:   true,
		Accession: true,
		Profiles:  profiles,
		Query:     query,
	}
}

func (s Search) BuildCommand() (*exec.Cmd, error) {
	cl, err := s.Args()
	if err != nil {
		return nil, err
	}
	return exec.Command(cl[0], cl[1:]...), nil
}

// Args returns the complete argument vector for the search.
func (s Search) Args() ([]string, error) {
	if s.Out == "" {
		return nil, errors.New("hmmer: missing tblout filename")
	}
	if s.Profiles == "" || s.Query == "" {
		return nil, errors.New("hmmer: missing profile or sequence file")
	}
	cl, err := external.Build(s, template.FuncMap{"devnull": func() string { return os.DevNull }})
	if err != nil {
		return nil, err
	}
	cl = append(cl, s.Params...)
	return append(cl, s.Profiles, s.Query), nil
}
