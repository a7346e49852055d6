// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store provides a persistent ledger of the jobs of a search run.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"modernc.org/kv"
)

// Record is the ledger entry for a single job.
type Record struct {
	Run     string    `json:"run"`
	Index   int       `json:"index"`
	State   string    `json:"state"`
	Query   string    `json:"query"`
	Out     string    `json:"out"`
	Args    []string  `json:"args,omitempty"`
	Err     string    `json:"error,omitempty"`
	Stderr  string    `json:"stderr,omitempty"`
	Updated time.Time `json:"updated"`
}

// Ledger is a kv database of job records keyed by chunk index.
type Ledger struct {
	db *kv.DB
}

// Open opens the ledger at path, creating it if it does not exist.
func Open(path string) (*Ledger, error) {
	opts := &kv.Options{Compare: ByIndex}
	var (
		db  *kv.DB
		err error
	)
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		db, err = kv.Create(path, opts)
	} else {
		db, err = kv.Open(path, opts)
	}
	if err != nil {
		return nil, err
	}
	return &Ledger{db: db}, nil
}

// Put stores r, replacing any record with the same index.
func (l *Ledger) Put(r Record) error {
	v, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return l.db.Set(MarshalInt(r.Index), v)
}

// Get returns the record for the job with the given index.
func (l *Ledger) Get(index int) (r Record, ok bool, err error) {
	v, err := l.db.Get(nil, MarshalInt(index))
	if err != nil || v == nil {
		return r, false, err
	}
	err = json.Unmarshal(v, &r)
	return r, err == nil, err
}

// All returns every record ordered by index.
func (l *Ledger) All() ([]Record, error) {
	var recs []Record
	err := Walk(l.db, func(_, v []byte) error {
		var r Record
		err := json.Unmarshal(v, &r)
		if err != nil {
			return err
		}
		recs = append(recs, r)
		return nil
	})
	return recs, err
}

// Close closes the ledger.
func (l *Ledger) Close() error { return l.db.Close() }

// Walk calls fn for each key and value in db in key order.
func Walk(db *kv.DB, fn func(k, v []byte) error) error {
	it, err := db.SeekFirst()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	for {
		k, v, err := it.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		err = fn(k, v)
		if err != nil {
			return err
		}
	}
}

// ByIndex is a kv compare function, ordering by signed job index
// so that an unsplit job sorts before all chunks.
func ByIndex(x, y []byte) int {
	if bytes.Equal(x, y) {
		return 0
	}
	ix := UnmarshalInt(x)
	iy := UnmarshalInt(y)
	switch {
	case ix < iy:
		return -1
	case ix > iy:
		return 1
	}
	panic("unreachable")
}

var order = binary.BigEndian

// MarshalInt returns a slice encoding n as an int64.
func MarshalInt(n int) []byte {
	var buf [8]byte
	order.PutUint64(buf[:], uint64(n))
	return buf[:]
}

// UnmarshalInt returns the int encoded in data by MarshalInt.
func UnmarshalInt(data []byte) int {
	return int(int64(order.Uint64(data)))
}
