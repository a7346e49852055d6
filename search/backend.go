// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package search

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kortschak/seqsearch/blast"
	"github.com/kortschak/seqsearch/hmmer"
	"github.com/kortschak/seqsearch/vsearch"
)

// Format is the structure of a backend output file as it bears
// on joining the outputs of a split search.
type Format uint8

const (
	// Lines is a line oriented format joined by concatenation.
	Lines Format = iota + 1
	// BlastXML is the single document BLAST XML report.
	BlastXML
	// Opaque is a format that cannot be joined.
	Opaque
)

func (f Format) String() string {
	switch f {
	case Lines:
		return "lines"
	case BlastXML:
		return "blast-xml"
	case Opaque:
		return "opaque"
	}
	return "unknown"
}

// LineFilter describes post-hoc filtering of tabular output lines
// for constraints that a backend cannot apply itself.
type LineFilter struct {
	// Sep is the column separator.
	Sep string
	// Min holds the per-column lower bounds.
	Min []ColumnMin
}

// ColumnMin is a lower bound on the numeric value in a column.
type ColumnMin struct {
	Name   string
	Column int
	Min    float64
}

// Backend is the capability set shared by all search tools.
type Backend interface {
	// Kind returns the backend kind.
	Kind() Kind

	// Algorithm returns the program variant that searches
	// a query of type query against a database of type db.
	Algorithm(query, db SeqType) (Algorithm, error)

	// Translate returns the backend flags implementing f followed
	// by the caller's overrides.
	Translate(f Filter, overrides Params) (Params, error)

	// Format returns the output format produced with params p.
	Format(p Params) (Format, error)

	// PostFilter returns the line filter needed to apply the
	// parts of f that have no command line flag, or nil.
	PostFilter(f Filter, p Params) (*LineFilter, error)

	// Args renders j into an argument vector.
	Args(j Job) ([]string, error)

	// Extension is the default output filename extension.
	Extension() string
}

// For returns the Backend for k.
func For(k Kind) (Backend, error) {
	switch k {
	case BLAST:
		return blastBackend{}, nil
	case VSEARCH:
		return vsearchBackend{}, nil
	case HMMER:
		return hmmerBackend{}, nil
	}
	return nil, configErrorf("unknown search backend: %v", k)
}

// DefaultParams returns p with any flags implied by the output path
// added. A BLAST output path ending in .xml selects the XML report
// unless an output format was requested explicitly.
func DefaultParams(k Kind, out string, p Params) Params {
	if k != BLAST || !strings.EqualFold(filepath.Ext(out), ".xml") {
		return p
	}
	if _, ok := p.Lookup("-outfmt"); ok {
		return p
	}
	return append(p[:len(p):len(p)], Param{Flag: "-outfmt", Value: "5"})
}

// blastBackend implements the BLAST+ dialect. BLAST+ rejects repeated
// flags, so translated flags that are also overridden are dropped.
type blastBackend struct{}

func (blastBackend) Kind() Kind        { return BLAST }
func (blastBackend) Extension() string { return "blastout" }

func (blastBackend) Algorithm(query, db SeqType) (Algorithm, error) {
	switch {
	case query == Nucleotide && db == Nucleotide:
		return blast.Blastn, nil
	case query == Protein && db == Protein:
		return blast.Blastp, nil
	case query == Nucleotide && db == Protein:
		return blast.Blastx, nil
	case query == Protein && db == Nucleotide:
		return blast.Tblastn, nil
	}
	return "", configErrorf("no blast program searches %v against %v", query, db)
}

func (b blastBackend) Translate(f Filter, overrides Params) (Params, error) {
	err := f.Validate()
	if err != nil {
		return nil, err
	}
	var p Params
	if f.EValue != 0 {
		p = append(p, Param{Flag: "-evalue", Value: formatFloat(f.EValue)})
	}
	if f.MaxTargets != 0 {
		p = append(p, Param{Flag: "-max_target_seqs", Value: strconv.Itoa(f.MaxTargets)})
	}
	p = shadow(p, overrides)
	_, err = b.PostFilter(f, p)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (blastBackend) outFormat(p Params) (blast.OutFormat, error) {
	spec, _ := p.Lookup("-outfmt")
	o, err := blast.ParseOutFormat(spec)
	if err != nil {
		return o, configErrorf("%v", err)
	}
	return o, nil
}

func (b blastBackend) Format(p Params) (Format, error) {
	o, err := b.outFormat(p)
	if err != nil {
		return 0, err
	}
	switch {
	case o.XML():
		return BlastXML, nil
	case o.Number <= 4, o.Tabular():
		return Lines, nil
	}
	return Opaque, nil
}

func (b blastBackend) PostFilter(f Filter, p Params) (*LineFilter, error) {
	if f.MinIdentity == 0 && f.MinCoverage == 0 {
		return nil, nil
	}
	o, err := b.outFormat(p)
	if err != nil {
		return nil, err
	}
	lf := &LineFilter{Sep: o.Separator()}
	if f.MinIdentity != 0 {
		c := o.Column("pident")
		if !o.Tabular() || c < 0 {
			return nil, configErrorf("cannot filter on minimum identity: -outfmt does not report pident")
		}
		lf.Min = append(lf.Min, ColumnMin{Name: "pident", Column: c, Min: 100 * f.MinIdentity})
	}
	if f.MinCoverage != 0 {
		c := o.Column("qcovs", "qcovhsp")
		if !o.Tabular() || c < 0 {
			return nil, configErrorf("cannot filter on minimum coverage: -outfmt does not report qcovs")
		}
		lf.Min = append(lf.Min, ColumnMin{Name: o.Fields[c], Column: c, Min: 100 * f.MinCoverage})
	}
	return lf, nil
}

func (blastBackend) Args(j Job) ([]string, error) {
	cmd := j.Executable
	if cmd == "" {
		cmd = string(j.Algorithm)
	}
	return blast.Search{
		Cmd:      cmd,
		Query:    j.Query,
		Database: j.Database.Path,
		Out:      j.Out,
		Threads:  j.Threads,
		Params:   j.Params.Args(),
	}.Args()
}

// vsearchBackend implements the VSEARCH dialect. VSEARCH keeps the
// last value of a repeated option, so overrides follow translated flags.
type vsearchBackend struct{}

// UsearchGlobal is the VSEARCH global alignment search.
const UsearchGlobal Algorithm = "usearch_global"

func (vsearchBackend) Kind() Kind        { return VSEARCH }
func (vsearchBackend) Extension() string { return "vsearchout" }

func (vsearchBackend) Algorithm(query, db SeqType) (Algorithm, error) {
	if query == Nucleotide && db == Nucleotide {
		return UsearchGlobal, nil
	}
	return "", configErrorf("vsearch only searches nucleotide against nucleotide, not %v against %v", query, db)
}

func (vsearchBackend) Translate(f Filter, overrides Params) (Params, error) {
	err := f.Validate()
	if err != nil {
		return nil, err
	}
	switch {
	case f.EValue != 0:
		return nil, configErrorf("vsearch does not support e_value filtering")
	case f.MinIdentity != 0:
		return nil, configErrorf("vsearch does not support min_identity filtering")
	case f.MinCoverage != 0:
		return nil, configErrorf("vsearch does not support min_coverage filtering")
	}
	n := f.MaxTargets
	if n == 0 {
		n = vsearch.DefaultMaxAccepts
	}
	p := Params{{Flag: "--maxaccepts", Value: strconv.Itoa(n)}}
	return append(p, overrides...), nil
}

func (vsearchBackend) Format(Params) (Format, error) { return Lines, nil }

func (vsearchBackend) PostFilter(Filter, Params) (*LineFilter, error) { return nil, nil }

func (vsearchBackend) Args(j Job) ([]string, error) {
	return vsearch.Global{
		Cmd:      j.Executable,
		Query:    j.Query,
		Database: j.Database.Path,
		Out:      j.Out,
		Threads:  j.Threads,
		Params:   j.Params.Args(),
	}.Args()
}

// hmmerBackend implements the HMMER dialect. HMMER keeps the last
// value of a repeated option, so overrides follow translated flags.
type hmmerBackend struct{}

func (hmmerBackend) Kind() Kind        { return HMMER }
func (hmmerBackend) Extension() string { return "hmmout" }

func (hmmerBackend) Algorithm(query, db SeqType) (Algorithm, error) {
	switch {
	case query == Protein && db == Protein:
		return hmmer.Hmmsearch, nil
	case query == Nucleotide && db == Nucleotide:
		return hmmer.Nhmmer, nil
	}
	return "", configErrorf("no hmmer program searches %v against %v profiles", query, db)
}

func (hmmerBackend) Translate(f Filter, overrides Params) (Params, error) {
	err := f.Validate()
	if err != nil {
		return nil, err
	}
	switch {
	case f.MaxTargets != 0:
		return nil, configErrorf("hmmer does not support max_targets filtering")
	case f.MinIdentity != 0:
		return nil, configErrorf("hmmer does not support min_identity filtering")
	case f.MinCoverage != 0:
		return nil, configErrorf("hmmer does not support min_coverage filtering")
	}
	var p Params
	if f.EValue != 0 {
		p = append(p, Param{Flag: "-E", Value: formatFloat(f.EValue)})
	}
	return append(p, overrides...), nil
}

func (hmmerBackend) Format(Params) (Format, error) { return Lines, nil }

func (hmmerBackend) PostFilter(Filter, Params) (*LineFilter, error) { return nil, nil }

func (hmmerBackend) Args(j Job) ([]string, error) {
	cmd := j.Executable
	if cmd == "" {
		cmd = string(j.Algorithm)
	}
	s := hmmer.New(cmd, j.Database.Path, j.Query, j.Out, j.Threads)
	s.Params = j.Params.Args()
	return s.Args()
}
