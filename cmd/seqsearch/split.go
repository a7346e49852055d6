// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log"

	"github.com/biogo/biogo/alphabet"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kortschak/seqsearch/search"
	"github.com/kortschak/seqsearch/split"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split a query collection into parts without searching",
	Long: `Split writes the parts a search would use and prints their paths,
one per line, followed by a summary of the part balance.`,
	PreRunE: bindFlags,
	RunE:    runSplit,
}

func init() {
	rootCmd.AddCommand(splitCmd)

	fs := splitCmd.Flags()
	fs.StringP("input", "i", "", "specify the query FASTA file (required)")
	fs.String("query-type", "nucl", "specify the query sequence type used when rewrapping (nucl or prot)")
	sizingFlags(fs)
}

func runSplit(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if s.Input == "" {
		return search.Configf("missing query file")
	}
	sizing, err := s.sizing()
	if err != nil {
		return err
	}
	qt, err := search.ParseSeqType(s.QueryType)
	if err != nil {
		return err
	}
	alpha := alphabet.Alphabet(alphabet.DNAredundant)
	if qt == search.Protein {
		alpha = alphabet.Protein
	}

	c, err := split.Open(s.Input)
	if err != nil {
		return err
	}
	log.Printf("%s: %d records in %s", c.Path, c.Count, humanize.Bytes(uint64(c.Size)))
	chunks, err := split.Split(c, s.PartsDir, sizing, s.Threads, split.Options{
		Width:    s.Rewrap,
		Alphabet: alpha,
		Index:    s.IndexParts,
	})
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, ch := range chunks {
		fmt.Fprintln(w, ch.Path)
	}
	log.Print(split.Summarize(chunks))
	return nil
}
