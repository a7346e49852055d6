// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blast provides types and functions for invoking NCBI+ BLAST
// and interpreting the output format it was asked to produce.
package blast

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/biogo/external"
	xmlblast "github.com/biogo/ncbi/blast"
)

// Programs of the BLAST+ suite selected by query and database sequence type.
const (
	Blastn  = "blastn"  // nucleotide query, nucleotide database
	Blastp  = "blastp"  // protein query, protein database
	Blastx  = "blastx"  // translated nucleotide query, protein database
	Tblastn = "tblastn" // protein query, translated nucleotide database
)

type MakeDB struct {
	// Usage: makeblastdb -dbtype <type> -out <file>
	//
	// For details relating to options and parameters, see the BLAST manual.
	//
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}makeblastdb{{end}}"` // makeblastdb

	In          string `buildarg:"{{with .}}-in{{split}}{{.}}{{end}}"`            // -in <s>
	Out         string `buildarg:"{{with .}}-out{{split}}{{.}}{{end}}"`           // -out <s>
	InputType   string `buildarg:"{{with .}}-input_type{{split}}{{.}}{{end}}"`    // -input_type <s>
	DBType      string `buildarg:"{{with .}}-dbtype{{split}}{{.}}{{end}}"`        // -dbtype <s>
	Title       string `buildarg:"{{with .}}-title{{split}}{{.}}{{end}}"`         // -title <s>
	ParseSeqids bool   `buildarg:"{{if .}}-parse_seqids{{end}}"`                  // -parse_seqids
	HashIndex   bool   `buildarg:"{{if .}}-hash_index{{end}}"`                    // -hash_index
	MaskData    string `buildarg:"{{with .}}-mask_data{{split}}{{.}}{{end}}"`     // -mask_data <s>
	MaxFileSize string `buildarg:"{{with .}}-max_file_size{{split}}{{.}}{{end}}"` // -max_file_size <s>
	LogFile     string `buildarg:"{{with .}}-logfile{{split}}{{.}}{{end}}"`       // -logfile <s>
}

func (m MakeDB) BuildCommand() (*exec.Cmd, error) {
	if m.DBType == "" {
		return nil, errors.New("makeblastdb: missing dbtype")
	}
	if m.In == "" {
		return nil, errors.New("makeblastdb: missing input filename")
	}
	cl := external.Must(external.Build(m))
	return exec.Command(cl[0], cl[1:]...), nil
}

// Search is a single BLAST+ search writing its report to a file.
type Search struct {
	// Usage: <program> -query <file> -db <file> -out <file>
	//
	// For details relating to options and parameters, see the BLAST manual.
	//
	Cmd string `buildarg:"{{if .}}{{.}}{{else}}blastn{{end}}"` // blastn, blastp, blastx or tblastn

	// Input:
	Query    string `buildarg:"-query{{split}}{{.}}"`               // -query <s>
	Database string `buildarg:"{{with .}}-db{{split}}{{.}}{{end}}"` // -db <s>

	// Output:
	Out string `buildarg:"{{with .}}-out{{split}}{{.}}{{end}}"` // -out <s>

	// Performance:
	Threads int `buildarg:"{{if .}}-num_threads{{split}}{{.}}{{end}}"` // -num_threads <n>

	// Params are passed through to the program after the
	// fixed arguments above, in order.
	Params []string
}

func (s Search) BuildCommand() (*exec.Cmd, error) {
	if s.Query == "" {
		return nil, fmt.Errorf("%s: missing query", s.program())
	}
	if s.Out == "" {
		return nil, fmt.Errorf("%s: missing out filename", s.program())
	}
	cl, err := s.Args()
	if err != nil {
		return nil, err
	}
	return exec.Command(cl[0], cl[1:]...), nil
}

// Args returns the complete argument vector for the search, starting
// with the program name.
func (s Search) Args() ([]string, error) {
	cl, err := external.Build(s)
	if err != nil {
		return nil, err
	}
	return append(cl, s.Params...), nil
}

func (s Search) program() string {
	if s.Cmd == "" {
		return Blastn
	}
	return s.Cmd
}

// OutFormat is a parsed -outfmt specifier.
type OutFormat struct {
	// Number is the leading format number.
	Number int
	// Fields are the requested column names for
	// the tabular formats.
	Fields []string
	// Delim is the column delimiter given with
	// delim=, or empty for the format default.
	Delim string
}

// stdFields are the columns reported by the tabular
// formats when no column list or "std" is given.
var stdFields = []string{
	"qaccver", "saccver", "pident", "length", "mismatch", "gapopen",
	"qstart", "qend", "sstart", "send", "evalue", "bitscore",
}

// ParseOutFormat parses a BLAST+ -outfmt value such as "6" or
// "7 qseqid sseqid pident qcovs". An empty string is the default
// pairwise format 0.
func ParseOutFormat(s string) (OutFormat, error) {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if s == "" {
		return OutFormat{}, nil
	}
	f := strings.Fields(s)
	n, err := strconv.Atoi(f[0])
	if err != nil {
		return OutFormat{}, fmt.Errorf("blast: invalid outfmt %q: %w", s, err)
	}
	if n < 0 || n > 18 {
		return OutFormat{}, fmt.Errorf("blast: outfmt number out of range: %d", n)
	}
	o := OutFormat{Number: n}
	if !o.Tabular() {
		return o, nil
	}
	for _, name := range f[1:] {
		if strings.HasPrefix(name, "delim=") {
			o.Delim = strings.TrimPrefix(name, "delim=")
			continue
		}
		if name == "std" {
			o.Fields = append(o.Fields, stdFields...)
			continue
		}
		o.Fields = append(o.Fields, name)
	}
	if o.Fields == nil {
		o.Fields = stdFields
	}
	return o, nil
}

// Tabular returns whether the format is one of the tabular
// or comma-separated formats.
func (o OutFormat) Tabular() bool {
	return o.Number == 6 || o.Number == 7 || o.Number == 10
}

// XML returns whether the format is the single file BLAST XML report.
func (o OutFormat) XML() bool { return o.Number == 5 }

// Separator returns the column separator for a tabular format.
func (o OutFormat) Separator() string {
	if o.Delim != "" {
		return o.Delim
	}
	if o.Number == 10 {
		return ","
	}
	return "\t"
}

// Column returns the index of the first of the named columns
// present in the format, or -1 if none are.
func (o OutFormat) Column(names ...string) int {
	for _, n := range names {
		for i, f := range o.Fields {
			if f == n {
				return i
			}
		}
	}
	return -1
}

// DecodeXML decodes a complete BLAST XML report.
func DecodeXML(r io.Reader) (*xmlblast.Output, error) {
	var o xmlblast.Output
	err := xml.NewDecoder(r).Decode(&o)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
