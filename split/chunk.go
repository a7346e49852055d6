// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package split

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
	"github.com/biogo/hts/fai"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Chunk is a contiguous subsequence of a Collection written to its
// own file.
type Chunk struct {
	// Parent is the collection the chunk was taken from.
	Parent *Collection
	// Index is the zero-based position of the chunk.
	Index int
	// Path is the path of the chunk file.
	Path string
	// First is the index of the first record in the chunk
	// and Count is the number of records.
	First, Count int
	// Size is the size of the chunk file in bytes.
	Size int64
}

// Options controls how chunk files are written.
type Options struct {
	// Width is the line width of rewrapped sequence. If Width
	// is zero, records are copied verbatim.
	Width int
	// Alphabet is the alphabet used to read records when
	// rewrapping. The default is alphabet.DNAredundant.
	Alphabet alphabet.Alphabet
	// Index specifies that a .fai index is written
	// beside each chunk.
	Index bool
}

// Split writes the chunks of c described by sizing into dir. Chunk
// files are named for the collection's base name with a two digit
// chunk number. Split will not overwrite existing files and removes
// any files it has written if it fails.
func Split(c *Collection, dir string, sizing Sizing, threads int, opts Options) (chunks []Chunk, err error) {
	spans, err := sizing.Plan(c, threads)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = filepath.Dir(c.Path)
	}
	src, err := os.Open(c.Path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	defer func() {
		if err != nil {
			Remove(chunks)
			chunks = nil
		}
	}()
	base := strings.TrimSuffix(filepath.Base(c.Path), filepath.Ext(c.Path))
	for i, s := range spans {
		path := filepath.Join(dir, fmt.Sprintf("%s-%02d.fasta", base, i))
		dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				err = fmt.Errorf("split: %w: %s", errCollision, path)
			}
			return chunks, err
		}
		chunks = append(chunks, Chunk{Parent: c, Index: i, Path: path, First: s.First, Count: s.Len()})

		start, end := c.span(s.First, s.Last)
		sec := io.NewSectionReader(src, start, end-start)
		if opts.Width == 0 {
			_, err = io.Copy(dst, sec)
		} else {
			err = rewrap(dst, sec, opts)
		}
		if err != nil {
			dst.Close()
			return chunks, err
		}
		fi, err := dst.Stat()
		if err != nil {
			dst.Close()
			return chunks, err
		}
		chunks[i].Size = fi.Size()
		err = dst.Close()
		if err != nil {
			return chunks, err
		}

		if opts.Index {
			err = writeIndex(path)
			if err != nil {
				return chunks, err
			}
		}
	}
	return chunks, nil
}

// rewrap writes the records in src to dst with sequence lines
// of opts.Width letters.
func rewrap(dst io.Writer, src io.Reader, opts Options) error {
	alpha := opts.Alphabet
	if alpha == nil {
		alpha = alphabet.DNAredundant
	}
	w := bufio.NewWriter(dst)
	sc := seqio.NewScanner(fasta.NewReader(src, linear.NewSeq("", nil, alpha)))
	for sc.Next() {
		seq := sc.Seq().(*linear.Seq)
		_, err := fmt.Fprintf(w, "%*a\n", opts.Width, seq)
		if err != nil {
			return err
		}
	}
	err := sc.Error()
	if err != nil {
		return err
	}
	return w.Flush()
}

func writeIndex(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	idx, err := fai.NewIndex(f)
	if err != nil {
		return fmt.Errorf("split: failed to index %s: %w", path, err)
	}
	dst, err := os.OpenFile(path+".fai", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	err = fai.WriteTo(dst, idx)
	if err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// Remove deletes the chunk files and any indexes written for them.
// It returns the first error other than a missing file.
func Remove(chunks []Chunk) error {
	var first error
	for _, c := range chunks {
		for _, p := range []string{c.Path, c.Path + ".fai"} {
			err := os.Remove(p)
			if err != nil && !errors.Is(err, os.ErrNotExist) && first == nil {
				first = err
			}
		}
	}
	return first
}

// Balance is a summary of the sizes of a set of chunks.
type Balance struct {
	Chunks int
	// Records and Bytes are the totals over all chunks.
	Records int
	Bytes   int64
	// Mean and StdDev are of the chunk sizes in bytes.
	Mean, StdDev float64
	// Min and Max are the smallest and largest chunk sizes in bytes.
	Min, Max float64
}

// Summarize returns the size balance of chunks.
func Summarize(chunks []Chunk) Balance {
	b := Balance{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return b
	}
	sizes := make([]float64, len(chunks))
	for i, c := range chunks {
		sizes[i] = float64(c.Size)
		b.Records += c.Count
		b.Bytes += c.Size
	}
	b.Mean, b.StdDev = stat.MeanStdDev(sizes, nil)
	if len(chunks) == 1 {
		b.StdDev = 0
	}
	b.Min = floats.Min(sizes)
	b.Max = floats.Max(sizes)
	return b
}

func (b Balance) String() string {
	return fmt.Sprintf("%d chunks, %d records, %d bytes (mean=%.0f sd=%.0f min=%.0f max=%.0f)",
		b.Chunks, b.Records, b.Bytes, b.Mean, b.StdDev, b.Min, b.Max)
}
