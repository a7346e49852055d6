// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
	"github.com/spf13/cobra"

	"github.com/kortschak/seqsearch/blast"
	"github.com/kortschak/seqsearch/search"
	"github.com/kortschak/seqsearch/vsearch"
)

var (
	mkdbIn      string
	mkdbOut     string
	mkdbType    string
	mkdbBackend string
	mkdbTitle   string
	mkdbExe     string
)

var makedbCmd = &cobra.Command{
	Use:   "makedb",
	Short: "Build a search database from a FASTA file",
	Long: `Makedb builds a BLAST+ database with makeblastdb or a VSEARCH UDB
index with vsearch --makeudb_usearch.`,
	RunE: runMakeDB,
}

func init() {
	rootCmd.AddCommand(makedbCmd)

	fs := makedbCmd.Flags()
	fs.StringVarP(&mkdbIn, "input", "i", "", "specify the reference FASTA file (required)")
	fs.StringVarP(&mkdbOut, "out", "o", "", "specify the database path (default is the input path)")
	fs.StringVar(&mkdbType, "db-type", "nucl", "specify the database sequence type (nucl or prot)")
	fs.StringVarP(&mkdbBackend, "backend", "b", "blast", "specify the database kind (blast or vsearch)")
	fs.StringVar(&mkdbTitle, "title", "", "specify the BLAST database title")
	fs.StringVar(&mkdbExe, "exe", "", "specify the database builder executable")
	makedbCmd.MarkFlagRequired("input")
}

func runMakeDB(*cobra.Command, []string) error {
	typ, err := search.ParseSeqType(mkdbType)
	if err != nil {
		return err
	}
	kind, err := search.ParseKind(mkdbBackend)
	if err != nil {
		return err
	}
	n, err := countRecords(mkdbIn, typ)
	if err != nil {
		return err
	}
	if n == 0 {
		return search.Configf("no sequences in %s", mkdbIn)
	}

	var cmd *exec.Cmd
	switch kind {
	case search.BLAST:
		out := mkdbOut
		if out == "" {
			out = mkdbIn
		}
		cmd, err = blast.MakeDB{Cmd: mkdbExe, DBType: typ.String(), In: mkdbIn, Out: out, Title: mkdbTitle}.BuildCommand()
	case search.VSEARCH:
		if typ != search.Nucleotide {
			return search.Configf("vsearch databases must be nucleotide")
		}
		out := mkdbOut
		if out == "" {
			out = mkdbIn + ".udb"
		}
		cmd, err = vsearch.MakeUDB{Cmd: mkdbExe, In: mkdbIn, Out: out}.BuildCommand()
	default:
		return search.Configf("%s databases are not built by makedb", kind)
	}
	if err != nil {
		return err
	}
	if _, err = search.Resolve(cmd.Args[0]); err != nil {
		return err
	}

	log.Printf("%v (%d sequences)", cmd, n)
	logger := logCapture()
	defer logger.Close()
	cmd.Stdout = logger
	cmd.Stderr = logger
	err = cmd.Run()
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Args[0], err)
	}
	return nil
}

// countRecords returns the number of FASTA records in the file at path.
func countRecords(path string, typ search.SeqType) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	alpha := alphabet.Alphabet(alphabet.DNAredundant)
	if typ == search.Protein {
		alpha = alphabet.Protein
	}
	var n int
	sc := seqio.NewScanner(fasta.NewReader(f, linear.NewSeq("", nil, alpha)))
	for sc.Next() {
		n++
	}
	err = sc.Error()
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}
