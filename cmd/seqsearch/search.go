// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kortschak/seqsearch/dispatch"
	"github.com/kortschak/seqsearch/parallel"
	"github.com/kortschak/seqsearch/search"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search a query collection against a database in parallel parts",
	Long: `Search splits the query collection into parts, runs the backend on each
part as a local process or a SLURM job and joins the part results.

The result filter flags are translated to the chosen backend's own
options. Raw backend options given with -param or the params settings
map follow the translated options and take precedence over them.`,
	PreRunE: bindFlags,
	RunE:    runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	fs := searchCmd.Flags()
	fs.StringP("input", "i", "", "specify the query FASTA file (required)")
	fs.String("query-type", "nucl", "specify the query sequence type (nucl or prot)")
	fs.StringP("db", "d", "", "specify the database path (required)")
	fs.String("db-type", "nucl", "specify the database sequence type (nucl or prot)")
	fs.StringP("backend", "b", "blast", "specify the search backend (blast, vsearch or hmmer)")
	fs.String("exe", "", "specify the backend executable")
	sizingFlags(fs)
	fs.Bool("keep-parts", false, "specify to keep part files and outputs after a successful search")

	fs.Float64("e-value", 0, "specify the maximum expect value of reported hits")
	fs.Int("max-targets", 0, "specify the maximum number of targets reported per query")
	fs.Float64("min-identity", 0, "specify the minimum identity fraction of reported hits")
	fs.Float64("min-coverage", 0, "specify the minimum query coverage fraction of reported hits")
	fs.StringArray("param", nil, "specify a raw backend option as flag=value, preserving flag case (may be repeated)")
	fs.Bool("cull", false, "specify to remove tabular hits contained by a higher scoring hit to the same query")

	fs.StringP("out", "o", "", "specify the output file or directory")
	fs.Bool("capture-stdout", false, "specify to write each part's standard output beside its result")
	fs.Bool("capture-stderr", false, "specify to write each part's standard error beside its result")
	fs.Bool("verify", false, "specify to decode a joined BLAST XML report after joining")

	fs.Bool("slurm", false, "specify to submit parts as SLURM jobs")
	fs.String("partition", "", "specify the SLURM partition")
	fs.String("time", "", "specify the SLURM time limit")
	fs.String("qos", "", "specify the SLURM quality of service")
	fs.String("account", "", "specify the SLURM account")
	fs.String("mem", "", "specify the SLURM memory request")
	fs.String("poll", "", "specify the SLURM job state polling interval")
}

func runSearch(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	cfg, err := s.searchConfig()
	if err != nil {
		return err
	}
	cfg.Logger = log.Default()
	if verbose {
		w := logCapture()
		defer w.Close()
		cfg.Stderr = w
	}

	srch, err := parallel.New(cfg)
	if err != nil {
		return err
	}
	log.Printf("%v in %d parts", srch, srch.Parts())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out, err := srch.Run(ctx)
	if err != nil {
		var runErr *dispatch.RunError
		if errors.As(err, &runErr) {
			log.Printf("%d of %d parts failed", len(runErr.Failed), runErr.Jobs)
			for _, f := range runErr.Failed {
				log.Print(f)
			}
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// searchConfig returns the parallel search configuration described by s.
func (s settings) searchConfig() (parallel.Config, error) {
	var cfg parallel.Config
	if s.Input == "" {
		return cfg, search.Configf("missing query file")
	}
	qt, err := search.ParseSeqType(s.QueryType)
	if err != nil {
		return cfg, err
	}
	db, err := s.database()
	if err != nil {
		return cfg, err
	}
	kind, err := search.ParseKind(s.Backend)
	if err != nil {
		return cfg, err
	}
	sizing, err := s.sizing()
	if err != nil {
		return cfg, err
	}
	err = s.Filter.Validate()
	if err != nil {
		return cfg, err
	}
	params, err := s.params()
	if err != nil {
		return cfg, err
	}

	cfg = parallel.Config{
		Input:         s.Input,
		QueryType:     qt,
		Database:      db,
		Backend:       kind,
		Executable:    s.Executable,
		Threads:       s.Threads,
		Sizing:        sizing,
		Rewrap:        s.Rewrap,
		IndexParts:    s.IndexParts,
		PartsDir:      s.PartsDir,
		KeepParts:     s.KeepParts,
		Filter:        s.Filter,
		Params:        params,
		Cull:          s.Cull,
		Out:           s.Out,
		CaptureStdout: s.CaptureStdout,
		CaptureStderr: s.CaptureStderr,
		Verify:        s.Verify,
	}
	if s.Batch {
		p := s.Slurm
		cfg.Batch = &p
		if s.Poll != "" {
			cfg.Poll, err = time.ParseDuration(s.Poll)
			if err != nil {
				return cfg, search.Configf("invalid poll interval %q: %v", s.Poll, err)
			}
		}
	}
	return cfg, nil
}
