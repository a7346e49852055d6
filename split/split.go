// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package split partitions FASTA sequence collections into contiguous,
// independently searchable chunk files.
package split

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"runtime"

	"github.com/kortschak/seqsearch/search"
)

// MaxParts is the ceiling on the default number of chunks.
const MaxParts = 32

// Collection is an ordered FASTA sequence collection backed by a file.
type Collection struct {
	// Path is the path of the backing file.
	Path string
	// Count is the number of records.
	Count int
	// Size is the size of the file in bytes.
	Size int64

	// offsets holds the start of each record and the
	// file size. Any bytes before the first header are
	// held by the first record.
	offsets []int64
}

// Open scans the FASTA file at path for record boundaries.
func Open(path string) (*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := &Collection{Path: path}
	r := bufio.NewReaderSize(f, 1<<16)
	var (
		offset    int64
		lineStart = true
		preamble  = true
	)
	for {
		b, err := r.ReadSlice('\n')
		if len(b) != 0 {
			if lineStart {
				switch {
				case b[0] == '>':
					if preamble {
						c.offsets = append(c.offsets, 0)
						preamble = false
					} else {
						c.offsets = append(c.offsets, offset)
					}
				case preamble && len(bytes.TrimSpace(b)) != 0:
					return nil, fmt.Errorf("split: %s is not a FASTA file: data before first header at offset %d", path, offset)
				}
			}
			offset += int64(len(b))
			lineStart = b[len(b)-1] == '\n'
		}
		if err != nil {
			if err == bufio.ErrBufferFull {
				continue
			}
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	c.Count = len(c.offsets)
	c.Size = offset
	c.offsets = append(c.offsets, offset)
	return c, nil
}

// span returns the byte range of records [first, last).
func (c *Collection) span(first, last int) (start, end int64) {
	return c.offsets[first], c.offsets[last]
}

// Sizing is a chunk sizing strategy. At most one field may be set.
// When none is set the number of chunks is derived from the number
// of available threads.
type Sizing struct {
	// Parts is the number of chunks.
	Parts int `mapstructure:"num_parts"`
	// PartSize is the target size of each chunk in bytes.
	PartSize int64 `mapstructure:"part_size"`
	// SeqsPerPart is the number of records in each chunk.
	SeqsPerPart int `mapstructure:"seqs_per_part"`
}

// Validate returns a *search.ConfigurationError if more than one
// strategy is given or a value is negative.
func (s Sizing) Validate() error {
	n := 0
	for _, set := range []bool{s.Parts != 0, s.PartSize != 0, s.SeqsPerPart != 0} {
		if set {
			n++
		}
	}
	switch {
	case n > 1:
		return search.Configf("more than one chunk sizing strategy given: %+v", s)
	case s.Parts < 0:
		return search.Configf("negative number of parts: %d", s.Parts)
	case s.PartSize < 0:
		return search.Configf("negative part size: %d", s.PartSize)
	case s.SeqsPerPart < 0:
		return search.Configf("negative sequences per part: %d", s.SeqsPerPart)
	}
	return nil
}

// DefaultParts returns the number of chunks used when no sizing
// strategy is given: threads if positive, otherwise the number of
// CPUs, and never more than MaxParts.
func DefaultParts(threads int) int {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return min(threads, MaxParts)
}

// Span is a half-open range of record indices.
type Span struct {
	First, Last int
}

// Len returns the number of records in the span.
func (s Span) Len() int { return s.Last - s.First }

// Plan returns the record spans for the chunks of c. The number of
// chunks is clamped to the number of records so that no chunk is empty.
func (s Sizing) Plan(c *Collection, threads int) ([]Span, error) {
	err := s.Validate()
	if err != nil {
		return nil, err
	}
	if c.Count == 0 {
		return nil, search.Configf("no sequences in %s", c.Path)
	}
	switch {
	case s.SeqsPerPart != 0:
		var spans []Span
		for first := 0; first < c.Count; first += s.SeqsPerPart {
			spans = append(spans, Span{First: first, Last: min(first+s.SeqsPerPart, c.Count)})
		}
		return spans, nil
	case s.PartSize != 0:
		n := int(math.Ceil(float64(c.Size) / float64(s.PartSize)))
		return byBytes(c, min(n, c.Count)), nil
	case s.Parts != 0:
		return byCount(c.Count, min(s.Parts, c.Count)), nil
	default:
		return byCount(c.Count, min(DefaultParts(threads), c.Count)), nil
	}
}

// byCount splits count records into n spans differing in
// length by at most one, longer spans first.
func byCount(count, n int) []Span {
	spans := make([]Span, n)
	size, extra := count/n, count%n
	first := 0
	for i := range spans {
		l := size
		if i < extra {
			l++
		}
		spans[i] = Span{First: first, Last: first + l}
		first += l
	}
	return spans
}

// byBytes splits the records of c into n spans of approximately
// equal byte size. A record is placed in the chunk containing its
// midpoint, and every chunk holds at least one record.
func byBytes(c *Collection, n int) []Span {
	spans := make([]Span, 0, n)
	first := 0
	for k := 0; k < n; k++ {
		left := n - k
		if left == 1 {
			spans = append(spans, Span{First: first, Last: c.Count})
			break
		}
		target := c.Size * int64(k+1) / int64(n)
		last := first + 1
		for last < c.Count-(left-1) && (c.offsets[last]+c.offsets[last+1])/2 <= target {
			last++
		}
		spans = append(spans, Span{First: first, Last: last})
		first = last
	}
	return spans
}

// errCollision is returned when a chunk file already exists.
var errCollision = errors.New("chunk file already exists")
