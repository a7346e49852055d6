// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/kortschak/seqsearch/join"
	"github.com/kortschak/seqsearch/search"
)

var (
	joinFormat string
	joinOut    string
	joinVerify bool
)

var joinCmd = &cobra.Command{
	Use:   "join [flags] <part output>...",
	Short: "Join part outputs into a single result",
	Long: `Join combines the outputs of a split search in the order given.
Line oriented outputs are concatenated. BLAST XML reports are merged
into a single report after checking that their headers agree.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runJoin,
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&joinFormat, "format", "f", "lines", "specify the part output format (lines or blast-xml)")
	joinCmd.Flags().StringVarP(&joinOut, "out", "o", "", "specify the joined output file (required)")
	joinCmd.Flags().BoolVar(&joinVerify, "verify", false, "specify to decode a joined BLAST XML report")
	joinCmd.MarkFlagRequired("out")
}

func runJoin(_ *cobra.Command, args []string) error {
	err := oneOf("format", joinFormat, search.Lines.String(), search.BlastXML.String())
	if err != nil {
		return err
	}
	format := search.Lines
	if joinFormat == search.BlastXML.String() {
		format = search.BlastXML
	}
	err = join.Files(joinOut, args, format)
	if err != nil {
		return err
	}
	log.Printf("joined %d outputs into %s", len(args), joinOut)
	if joinVerify && format == search.BlastXML {
		n, err := join.VerifyXML(joinOut)
		if err != nil {
			return err
		}
		log.Printf("verified %s: %d iterations", joinOut, n)
	}
	return nil
}
