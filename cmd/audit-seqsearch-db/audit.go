// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The audit-seqsearch-db command allows the job ledger written during a
// run of seqsearch to be queried. The ledger, jobs.db, is written to the
// chunk directory of a split search and remains after the run completes
// if the chunk files are kept, or if the run fails.
// Output from audit-seqsearch-db is a JSON stream on stdout with one
// object per job ordered by chunk index, corresponding to the following
// Go struct.
//  struct {
//  	Run     string    // run identifier
//  	Index   int       // chunk index
//  	State   string    // not-started, running, completed or failed
//  	Query   string    // chunk file searched
//  	Out     string    // chunk output file
//  	Args    []string  // rendered command line
//  	Err     string    // failure cause
//  	Stderr  string    // captured standard error path
//  	Updated time.Time // time of the last state change
//  }
// The -failed flag restricts output to jobs that did not complete.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"

	"modernc.org/kv"

	"github.com/kortschak/seqsearch/internal/store"
)

func main() {
	path := flag.String("db", "", "specify db file to audit (base must match 'jobs.db')")
	failed := flag.Bool("failed", false, "only report jobs that did not complete")
	flag.Parse()
	if filepath.Base(*path) != "jobs.db" {
		flag.Usage()
		os.Exit(2)
	}
	if _, err := os.Stat(*path); err != nil {
		log.Fatal(err)
	}

	opts := &kv.Options{Compare: store.ByIndex}
	db, err := kv.Open(*path, opts)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	enc := json.NewEncoder(os.Stdout)
	err = store.Walk(db, func(_, v []byte) error {
		var r store.Record
		err := json.Unmarshal(v, &r)
		if err != nil {
			return err
		}
		if *failed && r.State == "completed" {
			return nil
		}
		return enc.Encode(r)
	})
	if err != nil {
		log.Fatal(err)
	}
}
