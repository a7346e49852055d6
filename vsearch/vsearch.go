// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vsearch provides types for invoking VSEARCH global
// alignment searches and database construction.
package vsearch

import (
	"errors"
	"os/exec"

	"github.com/biogo/external"
)

// DefaultMaxAccepts is the number of accepted hits per query
// requested when the caller does not specify one.
const DefaultMaxAccepts = 20

// Global is a vsearch --usearch_global search writing
// BLAST-like tabular output.
type Global struct {
	// Usage: vsearch --usearch_global <file> --db <file> --blast6out <file>
	//
	// For details relating to options and parameters, see the VSEARCH manual.
	//
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}vsearch{{end}}"` // vsearch

	Query    string `buildarg:"--usearch_global{{split}}{{.}}"`         // --usearch_global <s>
	Database string `buildarg:"--db{{split}}{{.}}"`                     // --db <s>
	Out      string `buildarg:"--blast6out{{split}}{{.}}"`              // --blast6out <s>
	Threads  int    `buildarg:"{{if .}}--threads{{split}}{{.}}{{end}}"` // --threads <n>

	// Params are passed through to vsearch after the
	// fixed arguments above, in order.
	Params []string
}

func (g Global) BuildCommand() (*exec.Cmd, error) {
	cl, err := g.Args()
	if err != nil {
		return nil, err
	}
	return exec.Command(cl[0], cl[1:]...), nil
}

// Args returns the complete argument vector for the search.
func (g Global) Args() ([]string, error) {
	if g.Query == "" {
		return nil, errors.New("vsearch: missing query")
	}
	if g.Database == "" {
		return nil, errors.New("vsearch: missing db")
	}
	if g.Out == "" {
		return nil, errors.New("vsearch: missing out filename")
	}
	cl, err := external.Build(g)
	if err != nil {
		return nil, err
	}
	return append(cl, g.Params...), nil
}

// MakeUDB builds a UDB index from a FASTA file.
type MakeUDB struct {
	// Usage: vsearch --makeudb_usearch <file> --output <file>
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}vsearch{{end}}"` // vsearch

	In  string `buildarg:"--makeudb_usearch{{split}}{{.}}"` // --makeudb_usearch <s>
	Out string `buildarg:"--output{{split}}{{.}}"`          // --output <s>
}

func (m MakeUDB) BuildCommand() (*exec.Cmd, error) {
	if m.In == "" || m.Out == "" {
		return nil, errors.New("vsearch: makeudb needs input and output filenames")
	}
	cl := external.Must(external.Build(m))
	return exec.Command(cl[0], cl[1:]...), nil
}
