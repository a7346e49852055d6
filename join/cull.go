// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package join

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/biogo/store/interval"

	"github.com/kortschak/seqsearch/search"
)

// CullContained removes the hits in the tabular output at path that are
// completely contained, on the query, by a higher scoring hit to the
// same query. Comment lines are retained and the order of the remaining
// lines is unchanged. It returns the number of hits kept and removed.
func CullContained(path string, c *search.Culling) (kept, removed int, err error) {
	if c == nil {
		return 0, 0, nil
	}
	lines, hits, err := readHits(path, c)
	if err != nil {
		return 0, 0, err
	}

	trees := make(map[string]*interval.IntTree)
	for _, h := range hits {
		t, ok := trees[h.query]
		if !ok {
			t = &interval.IntTree{}
			trees[h.query] = t
		}
		err = t.Insert(h, true)
		if err != nil {
			return 0, 0, fmt.Errorf("join: %s:%d: %w", path, h.line+1, err)
		}
	}
	for _, t := range trees {
		t.AdjustRanges()
	}

	drop := make(map[int]bool)
outer:
	for _, h := range hits {
		for _, o := range trees[h.query].Get(h) {
			if o.(queryInterval).score > h.score {
				drop[h.line] = true
				continue outer
			}
		}
	}

	err = replace(path, func(w io.Writer) error {
		for i, l := range lines {
			if drop[i] {
				continue
			}
			_, err := io.WriteString(w, l)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return len(hits) - len(drop), len(drop), nil
}

// readHits returns the lines of the file at path and the hits they hold.
func readHits(path string, c *search.Culling) ([]string, []queryInterval, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	var (
		lines []string
		hits  []queryInterval
	)
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if len(line) != 0 {
			h, ok, perr := parseHit(line, c)
			if perr != nil {
				return nil, nil, fmt.Errorf("join: %s:%d: %w", path, len(lines)+1, perr)
			}
			if ok {
				h.uid = uintptr(len(hits))
				h.line = len(lines)
				hits = append(hits, h)
			}
			lines = append(lines, line)
		}
		if err != nil {
			if err == io.EOF {
				return lines, hits, nil
			}
			return nil, nil, err
		}
	}
}

func parseHit(line string, c *search.Culling) (h queryInterval, ok bool, err error) {
	text := strings.TrimRight(line, "\r\n")
	if text == "" || strings.HasPrefix(text, "#") {
		return h, false, nil
	}
	fields := strings.Split(text, c.Sep)
	for _, col := range []int{c.Query, c.Start, c.End, c.Score} {
		if col >= len(fields) {
			return h, false, fmt.Errorf("too few columns: %d", len(fields))
		}
	}
	h.query = fields[c.Query]
	start, err := strconv.Atoi(strings.TrimSpace(fields[c.Start]))
	if err != nil {
		return h, false, fmt.Errorf("invalid query start: %w", err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(fields[c.End]))
	if err != nil {
		return h, false, fmt.Errorf("invalid query end: %w", err)
	}
	if start > end {
		start, end = end, start
	}
	h.start = start - 1
	h.end = end
	h.score, err = strconv.ParseFloat(strings.TrimSpace(fields[c.Score]), 64)
	if err != nil {
		return h, false, fmt.Errorf("invalid bit score: %w", err)
	}
	return h, true, nil
}

// queryInterval is the half-open query span of a hit.
type queryInterval struct {
	uid   uintptr
	line  int
	query string
	start int
	end   int
	score float64
}

// Overlap returns whether the b interval completely contains i.
func (i queryInterval) Overlap(b interval.IntRange) bool {
	return b.Start <= i.start && i.end <= b.End
}
func (i queryInterval) ID() uintptr { return i.uid }
func (i queryInterval) Range() interval.IntRange {
	return interval.IntRange{Start: i.start, End: i.end}
}
