// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package search describes sequence similarity searches independently of
// the tool that performs them. It translates a common filtering vocabulary
// into the command line dialect of each supported backend and renders
// single search jobs into argument vectors.
package search

import (
	"fmt"
	"strings"
)

// SeqType is the residue type of a sequence collection or database.
type SeqType uint8

const (
	Nucleotide SeqType = iota + 1
	Protein
)

// ParseSeqType returns the SeqType named by s.
func ParseSeqType(s string) (SeqType, error) {
	switch strings.ToLower(s) {
	case "nucl", "nucleotide", "dna", "rna":
		return Nucleotide, nil
	case "prot", "protein", "aa":
		return Protein, nil
	}
	return 0, configErrorf("unknown sequence type: %q", s)
}

func (t SeqType) String() string {
	switch t {
	case Nucleotide:
		return "nucl"
	case Protein:
		return "prot"
	}
	return fmt.Sprintf("SeqType(%d)", t)
}

func (t SeqType) valid() bool { return t == Nucleotide || t == Protein }

// Kind is a search backend.
type Kind uint8

const (
	BLAST Kind = iota + 1
	VSEARCH
	HMMER
)

// ParseKind returns the Kind named by s.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "blast":
		return BLAST, nil
	case "vsearch":
		return VSEARCH, nil
	case "hmmer":
		return HMMER, nil
	}
	return 0, configErrorf("unknown search backend: %q", s)
}

func (k Kind) String() string {
	switch k {
	case BLAST:
		return "blast"
	case VSEARCH:
		return "vsearch"
	case HMMER:
		return "hmmer"
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Algorithm is the program variant of a backend that performs a
// search, for example blastx or hmmsearch.
type Algorithm string

// Database is a searchable index of reference sequences. The
// core only reads it.
type Database struct {
	// Path is the path given to the backend.
	Path string
	// Type is the residue type of the indexed sequences.
	Type SeqType
}

// NewDatabase returns a Database after checking its fields.
func NewDatabase(path string, typ SeqType) (Database, error) {
	if path == "" {
		return Database{}, configErrorf("missing database path")
	}
	if !typ.valid() {
		return Database{}, configErrorf("invalid database sequence type: %v", typ)
	}
	return Database{Path: path, Type: typ}, nil
}
