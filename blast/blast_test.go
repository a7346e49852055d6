// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blast

import (
	"reflect"
	"strings"
	"testing"
)

var searchArgsTests = []struct {
	search Search
	want   []string
}{
	{
		search: Search{Query: "q.fa", Database: "db", Out: "q.blastout", Threads: 1},
		want:   []string{"blastn", "-query", "q.fa", "-db", "db", "-out", "q.blastout", "-num_threads", "1"},
	},
	{
		search: Search{Cmd: "/opt/blast/tblastn", Query: "q.fa", Database: "db", Out: "o", Params: []string{"-evalue", "1e-05", "-outfmt", "6 qseqid pident"}},
		want:   []string{"/opt/blast/tblastn", "-query", "q.fa", "-db", "db", "-out", "o", "-evalue", "1e-05", "-outfmt", "6 qseqid pident"},
	},
}

func TestSearchArgs(t *testing.T) {
	for _, test := range searchArgsTests {
		got, err := test.search.Args()
		if err != nil {
			t.Errorf("unexpected error for %+v: %v", test.search, err)
			continue
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("unexpected args:\ngot: %q\nwant:%q", got, test.want)
		}
	}
}

func TestSearchBuildCommandMissing(t *testing.T) {
	_, err := Search{Cmd: Blastp, Out: "o"}.BuildCommand()
	if err == nil || !strings.Contains(err.Error(), "missing query") {
		t.Errorf("expected missing query error, got: %v", err)
	}
	_, err = MakeDB{In: "x.fa"}.BuildCommand()
	if err == nil {
		t.Error("expected error for missing dbtype")
	}
}

var outFormatTests = []struct {
	spec     string
	number   int
	tabular  bool
	identity int
	coverage int
	sep      string
}{
	{spec: "", number: 0, identity: -1, coverage: -1, sep: "\t"},
	{spec: "5", number: 5, identity: -1, coverage: -1, sep: "\t"},
	{spec: "6", number: 6, tabular: true, identity: 2, coverage: -1, sep: "\t"},
	{spec: `"6 qseqid sseqid pident qcovs"`, number: 6, tabular: true, identity: 2, coverage: 3, sep: "\t"},
	{spec: "7 std qcovhsp", number: 7, tabular: true, identity: 2, coverage: 12, sep: "\t"},
	{spec: "10 delim=, qseqid qcovs", number: 10, tabular: true, identity: -1, coverage: 1, sep: ","},
}

func TestParseOutFormat(t *testing.T) {
	for _, test := range outFormatTests {
		f, err := ParseOutFormat(test.spec)
		if err != nil {
			t.Errorf("unexpected error for %q: %v", test.spec, err)
			continue
		}
		if f.Number != test.number {
			t.Errorf("unexpected number for %q: got:%d want:%d", test.spec, f.Number, test.number)
		}
		if f.Tabular() != test.tabular {
			t.Errorf("unexpected tabular for %q: got:%t want:%t", test.spec, f.Tabular(), test.tabular)
		}
		if got := f.Column("pident"); got != test.identity {
			t.Errorf("unexpected pident column for %q: got:%d want:%d", test.spec, got, test.identity)
		}
		if got := f.Column("qcovs", "qcovhsp"); got != test.coverage {
			t.Errorf("unexpected coverage column for %q: got:%d want:%d", test.spec, got, test.coverage)
		}
		if got := f.Separator(); got != test.sep {
			t.Errorf("unexpected separator for %q: got:%q want:%q", test.spec, got, test.sep)
		}
	}

	for _, bad := range []string{"six", "19", "-1"} {
		_, err := ParseOutFormat(bad)
		if err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

const smallReport = `<?xml version="1.0"?>
<!DOCTYPE BlastOutput PUBLIC "-//NCBI//NCBI BlastOutput/EN" "http://www.ncbi.nlm.nih.gov/dtd/NCBI_BlastOutput.dtd">
<BlastOutput>
  <BlastOutput_program>blastn</BlastOutput_program>
  <BlastOutput_iterations>
    <Iteration>
      <Iteration_iter-num>1</Iteration_iter-num>
      <Iteration_query-ID>Query_1</Iteration_query-ID>
    </Iteration>
    <Iteration>
      <Iteration_iter-num>2</Iteration_iter-num>
      <Iteration_query-ID>Query_2</Iteration_query-ID>
    </Iteration>
  </BlastOutput_iterations>
</BlastOutput>
`

func TestDecodeXML(t *testing.T) {
	o, err := DecodeXML(strings.NewReader(smallReport))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(o.Iterations) != 2 {
		t.Fatalf("unexpected number of iterations: got:%d want:2", len(o.Iterations))
	}
	if id := o.Iterations[1].QueryId; id == nil || *id != "Query_2" {
		t.Errorf("unexpected query id: %v", id)
	}
}
