// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"path/filepath"
	"testing"
	"time"
)

func TestMarshalInt(t *testing.T) {
	for _, n := range []int{-1, 0, 1, 31, 1 << 40} {
		got := UnmarshalInt(MarshalInt(n))
		if got != n {
			t.Errorf("unexpected round trip: got:%d want:%d", got, n)
		}
	}
	if ByIndex(MarshalInt(-1), MarshalInt(0)) != -1 {
		t.Error("unsplit index does not sort first")
	}
	if ByIndex(MarshalInt(10), MarshalInt(2)) != 1 {
		t.Error("chunk indexes not ordered numerically")
	}
}

func TestLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	now := time.Date(2020, 9, 4, 3, 37, 47, 0, time.UTC)
	for _, r := range []Record{
		{Run: "r", Index: 2, State: "running", Query: "q-02.fasta", Updated: now},
		{Run: "r", Index: 0, State: "running", Query: "q-00.fasta", Updated: now},
		{Run: "r", Index: 1, State: "running", Query: "q-01.fasta", Updated: now},
		{Run: "r", Index: 2, State: "failed", Query: "q-02.fasta", Err: "exit status 3", Updated: now},
	} {
		err = l.Put(r)
		if err != nil {
			t.Fatalf("failed to put record: %v", err)
		}
	}
	err = l.Close()
	if err != nil {
		t.Fatalf("failed to close ledger: %v", err)
	}

	l, err = Open(path)
	if err != nil {
		t.Fatalf("failed to reopen ledger: %v", err)
	}
	defer l.Close()
	recs, err := l.All()
	if err != nil {
		t.Fatalf("failed to read ledger: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("unexpected number of records: got:%d want:3", len(recs))
	}
	for i, r := range recs {
		if r.Index != i {
			t.Errorf("records out of order: got index %d at %d", r.Index, i)
		}
	}
	r, ok, err := l.Get(2)
	if err != nil || !ok {
		t.Fatalf("failed to get record: ok=%t err=%v", ok, err)
	}
	if r.State != "failed" || r.Err != "exit status 3" || !r.Updated.Equal(now) {
		t.Errorf("record not replaced: %+v", r)
	}
	_, ok, err = l.Get(5)
	if err != nil || ok {
		t.Errorf("unexpected result for missing record: ok=%t err=%v", ok, err)
	}
}
