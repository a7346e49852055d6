// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package join

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kortschak/seqsearch/search"
)

func writeFiles(t *testing.T, dir string, contents ...string) []string {
	t.Helper()
	paths := make([]string, len(contents))
	for i, c := range contents {
		paths[i] = filepath.Join(dir, fmt.Sprintf("query-%02d.blastout", i))
		err := os.WriteFile(paths[i], []byte(c), 0o644)
		if err != nil {
			t.Fatalf("failed to write chunk output: %v", err)
		}
	}
	return paths
}

func TestFilesLines(t *testing.T) {
	dir := t.TempDir()
	chunks := []string{
		"q1\ts1\t99.0\nq2\ts1\t98.5\n",
		"",
		"q3\ts2\t97.0\n",
		"q4\ts3\t96.0\nq5\ts3\t95.0\nq6\ts4\t94.0\n",
	}
	paths := writeFiles(t, dir, chunks...)
	dst := filepath.Join(dir, "query.blastout")
	err := Files(dst, paths, search.Lines)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("failed to read joined output: %v", err)
	}
	want := strings.Join(chunks, "")
	if string(got) != want {
		t.Errorf("unexpected joined output:\ngot:\n%s\nwant:\n%s", got, want)
	}
	if n := strings.Count(string(got), "\n"); n != 6 {
		t.Errorf("unexpected number of records: got:%d want:6", n)
	}
}

func TestFilesMissing(t *testing.T) {
	dir := t.TempDir()
	paths := writeFiles(t, dir, "q1\ts1\n", "q2\ts2\n")
	paths = append(paths, filepath.Join(dir, "query-02.blastout"))
	dst := filepath.Join(dir, "query.blastout")
	err := Files(dst, paths, search.Lines)
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected integrity error: got:%v", err)
	}
	if ie.Path != paths[2] {
		t.Errorf("unexpected offending path: got:%s want:%s", ie.Path, paths[2])
	}
	if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("joined output written despite failure: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, ".query.blastout-*"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestFilesOpaque(t *testing.T) {
	dir := t.TempDir()
	paths := writeFiles(t, dir, "a", "b")
	err := Files(filepath.Join(dir, "out"), paths, search.Opaque)
	var ce *search.ConfigurationError
	if !errors.As(err, &ce) {
		t.Errorf("expected configuration error: got:%v", err)
	}
}

// report returns a BLAST XML report with the given program
// version and one iteration per query.
func report(version string, queries ...string) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, `<?xml version="1.0"?>
<!DOCTYPE BlastOutput PUBLIC "-//NCBI//NCBI BlastOutput/EN" "http://www.ncbi.nlm.nih.gov/dtd/NCBI_BlastOutput.dtd">
<BlastOutput>
  <BlastOutput_program>blastn</BlastOutput_program>
  <BlastOutput_version>%s</BlastOutput_version>
  <BlastOutput_reference>Zheng Zhang, Scott Schwartz, Lukas Wagner, and Webb Miller (2000), &quot;A greedy algorithm for aligning DNA sequences&quot;, J Comput Biol 2000; 7(1-2):203-14.</BlastOutput_reference>
  <BlastOutput_db>db</BlastOutput_db>
  <BlastOutput_query-ID>Query_1</BlastOutput_query-ID>
  <BlastOutput_query-def>%s</BlastOutput_query-def>
  <BlastOutput_iterations>
`, version, queries[0])
	for i, q := range queries {
		fmt.Fprintf(&buf, `    <Iteration>
      <Iteration_iter-num>%d</Iteration_iter-num>
      <Iteration_query-ID>Query_%d</Iteration_query-ID>
      <Iteration_query-def>%s</Iteration_query-def>
    </Iteration>
`, i+1, i+1, q)
	}
	buf.WriteString("  </BlastOutput_iterations>\n</BlastOutput>\n\n")
	return buf.String()
}

func TestXML(t *testing.T) {
	dir := t.TempDir()
	paths := writeFiles(t, dir,
		report("BLASTN 2.10.1+", "a", "b", "c"),
		report("BLASTN 2.10.1+", "d", "e", "f"),
		report("BLASTN 2.10.1+", "g", "h", "i"),
		report("BLASTN 2.10.1+", "j"),
	)
	dst := filepath.Join(dir, "query.xml")
	err := Files(dst, paths, search.BlastXML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, err := VerifyXML(dst)
	if err != nil {
		t.Fatalf("joined report is not valid: %v", err)
	}
	if n != 10 {
		t.Errorf("unexpected number of iterations: got:%d want:10", n)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("failed to read joined report: %v", err)
	}
	for _, marker := range []string{"<?xml", "<BlastOutput>", "<BlastOutput_iterations>", "</BlastOutput_iterations>", "</BlastOutput>"} {
		if c := strings.Count(string(got), marker); c != 1 {
			t.Errorf("unexpected count of %s: got:%d want:1", marker, c)
		}
	}
	var last int
	for _, q := range "abcdefghij" {
		i := strings.Index(string(got), fmt.Sprintf("<Iteration_query-def>%c<", q))
		if i < last {
			t.Errorf("iteration for %c out of chunk order", q)
		}
		last = i
	}
}

func TestXMLHeaderPrefix(t *testing.T) {
	base := report("BLASTN 2.10.1+", "a")
	if strings.Index(base, "2.10.1+") > HeaderPrefix {
		t.Fatal("test report version is beyond header prefix")
	}
	if strings.Index(base, "<BlastOutput_query-def>") < HeaderPrefix {
		t.Fatal("test report query definition is within header prefix")
	}
	for _, test := range []struct {
		name    string
		second  string
		wantErr bool
	}{
		{
			name:   "differ beyond prefix",
			second: report("BLASTN 2.10.1+", "b"),
		},
		{
			name:    "differ within prefix",
			second:  report("BLASTN 2.2.28+", "b"),
			wantErr: true,
		},
	} {
		dir := t.TempDir()
		paths := writeFiles(t, dir, base, test.second)
		dst := filepath.Join(dir, "query.xml")
		err := Files(dst, paths, search.BlastXML)
		var ie *IntegrityError
		if test.wantErr {
			if !errors.As(err, &ie) || ie.Path != paths[1] {
				t.Errorf("expected integrity error naming second chunk for %s: got:%v", test.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("unexpected error for %s: %v", test.name, err)
		}
	}
}

func TestXMLIntegrity(t *testing.T) {
	good := report("BLASTN 2.10.1+", "a", "b")
	for _, test := range []struct {
		name string
		bad  string
	}{
		{name: "empty", bad: ""},
		{name: "not xml", bad: "q1\ts1\t99.0\n"},
		{name: "not blast", bad: "<?xml version=\"1.0\"?>\n<root>\n</root>\n"},
		{name: "no iterations", bad: strings.Split(good, "    <Iteration>")[0]},
		{name: "truncated", bad: strings.Split(good, "  </BlastOutput_iterations>")[0]},
		{name: "long header", bad: strings.Replace(good, "<BlastOutput_db>db", "<BlastOutput_db>"+strings.Repeat("x", HeaderLimit)+"\n", 1)},
	} {
		dir := t.TempDir()
		paths := writeFiles(t, dir, good, test.bad)
		dst := filepath.Join(dir, "query.xml")
		err := Files(dst, paths, search.BlastXML)
		var ie *IntegrityError
		if !errors.As(err, &ie) {
			t.Errorf("expected integrity error for %s: got:%v", test.name, err)
			continue
		}
		if ie.Path != paths[1] {
			t.Errorf("unexpected offending path for %s: got:%s want:%s", test.name, ie.Path, paths[1])
		}
		if _, err := os.Stat(dst); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("joined report written despite failure for %s", test.name)
		}
	}
}

func TestFilterLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "query.blastout")
	data := `# BLASTN 2.10.1+
q1	s1	99.0	100
q1	s2	80.0	100
q2	s1	97.0	40
q3	s3	96.5	95
`
	err := os.WriteFile(path, []byte(data), 0o644)
	if err != nil {
		t.Fatalf("failed to write output: %v", err)
	}
	f := &search.LineFilter{Sep: "\t", Min: []search.ColumnMin{
		{Name: "pident", Column: 2, Min: 90},
		{Name: "qcovs", Column: 3, Min: 50},
	}}
	kept, removed, err := FilterLines(path, f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kept != 3 || removed != 2 {
		t.Errorf("unexpected filter counts: kept:%d removed:%d", kept, removed)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read filtered output: %v", err)
	}
	want := "# BLASTN 2.10.1+\nq1\ts1\t99.0\t100\nq3\ts3\t96.5\t95\n"
	if string(got) != want {
		t.Errorf("unexpected filtered output:\ngot:\n%s\nwant:\n%s", got, want)
	}

	err = os.WriteFile(path, []byte("q1\ts1\n"), 0o644)
	if err != nil {
		t.Fatalf("failed to write output: %v", err)
	}
	_, _, err = FilterLines(path, f)
	if err == nil {
		t.Error("expected error for missing column")
	}
}
