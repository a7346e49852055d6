// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// seqsearch runs sequence similarity searches with BLAST+, VSEARCH or
// HMMER by splitting the query sequences into parts, searching each part
// as a separate local process or SLURM job and joining the results.
//
// Settings may be given by flag, by a YAML or TOML configuration file
// named with -config, or by SEQSEARCH_ prefixed environment variables.
// Flags take precedence over the configuration file. An example
// configuration file:
//
//  input: reads.fasta
//  query_type: nucl
//  database: nt
//  db_type: nucl
//  backend: blast
//  threads: 16
//  part_size: 200MB
//  filter:
//    e_value: 1e-5
//    max_targets: 10
//  params:
//    -outfmt: "6 std qcovs"
//    -task: megablast
//  param:
//    - -E=0.01
//  slurm:
//    time: "1:00:00"
//    partition: core
//
// Keys of the params map are lower cased when the configuration file is
// read. Case-sensitive backend flags such as the HMMER -E, -T and -Z
// options must be given in the param list or with --param.
//
package main

import (
	"bufio"
	"bytes"
	"io"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "seqsearch",
	Short: "Split, dispatch and join sequence similarity searches",
	Long: `seqsearch runs BLAST+, VSEARCH and HMMER searches over parts of a query
sequence collection in parallel and joins the part results into one output.`,
	SilenceUsage: true,
}

var (
	cfgFile string
	verbose bool
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "specify a YAML or TOML settings file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "specify verbose logging of external process output")
}

func initConfig() {
	viper.SetEnvPrefix("seqsearch")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	err := viper.ReadInConfig()
	if err != nil {
		log.Fatalf("failed to read settings: %v", err)
	}
	log.Printf("using settings from %s", viper.ConfigFileUsed())
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		log.Fatal(err)
	}
}

// logCapture returns an io.WriteCloser that pipes writes to the default log logger.
func logCapture() io.WriteCloser {
	r, w := io.Pipe()
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			if len(bytes.TrimSpace(sc.Bytes())) == 0 {
				continue
			}
			log.Printf("\t%s", sc.Bytes())
		}
		err := sc.Err()
		if err != nil && err != io.EOF {
			_ = r.CloseWithError(err)
		}
	}()
	return w
}
