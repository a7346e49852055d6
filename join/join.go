// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package join merges the per-chunk outputs of a split search into a
// single result.
package join

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kortschak/seqsearch/blast"
	"github.com/kortschak/seqsearch/search"
)

// IntegrityError is returned when a chunk output is missing,
// truncated or inconsistent with its siblings.
type IntegrityError struct {
	Path string
	Msg  string
	Err  error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("join: %s: %s: %v", e.Path, e.Msg, e.Err)
	}
	return fmt.Sprintf("join: %s: %s", e.Path, e.Msg)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// Files writes the join of the outputs at paths, in order, to the file
// at dst. The result is written to a temporary file that is renamed to
// dst only if the join succeeds.
func Files(dst string, paths []string, format search.Format) error {
	if len(paths) == 0 {
		return errNoOutputs
	}
	var join func(io.Writer, []string) error
	switch format {
	case search.Lines:
		join = Concat
	case search.BlastXML:
		join = XML
	default:
		return search.Configf("cannot join %d outputs in %v format", len(paths), format)
	}
	return replace(dst, func(w io.Writer) error { return join(w, paths) })
}

// replace writes the file at dst atomically using fn.
func replace(dst string, fn func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	w := bufio.NewWriter(tmp)
	err = fn(w)
	if err != nil {
		return err
	}
	err = w.Flush()
	if err != nil {
		return err
	}
	err = tmp.Chmod(0o644)
	if err != nil {
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Concat writes the byte concatenation of the files at paths to dst.
func Concat(dst io.Writer, paths []string) error {
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return &IntegrityError{Path: p, Msg: "missing output", Err: err}
		}
		_, err = io.Copy(dst, f)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

var errNoOutputs = errors.New("join: no outputs")

const (
	// HeaderLimit is the maximum length of a BLAST XML header.
	HeaderLimit = 10000
	// HeaderPrefix is the length of the header prefix that
	// must match between joined BLAST XML reports.
	HeaderPrefix = 300

	xmlDecl = `<?xml version="1.0"?>`
	doctype = `<!DOCTYPE BlastOutput PUBLIC "-//NCBI//NCBI BlastOutput/EN"`

	openIteration   = "<Iteration>"
	closeIterations = "</BlastOutput_iterations>"
)

// XML writes the join of the BLAST XML reports at paths to dst. The
// header of the first report is written once, followed by the iterations
// of every report and a single shared footer.
func XML(dst io.Writer, paths []string) error {
	var first []byte
	for i, p := range paths {
		err := func() error {
			f, err := os.Open(p)
			if err != nil {
				return &IntegrityError{Path: p, Msg: "missing output", Err: err}
			}
			defer f.Close()
			r := bufio.NewReader(f)

			header, err := readHeader(p, r)
			if err != nil {
				return err
			}
			if i == 0 {
				first = header
				_, err = dst.Write(header)
			} else {
				if !bytes.Equal(prefix(first), prefix(header)) {
					return &IntegrityError{Path: p, Msg: fmt.Sprintf("header does not match %s", paths[0])}
				}
				_, err = io.WriteString(dst, "    "+openIteration+"\n")
			}
			if err != nil {
				return err
			}

			for {
				line, err := r.ReadBytes('\n')
				if bytes.Contains(line, []byte(closeIterations)) {
					return nil
				}
				if err != nil {
					if err == io.EOF {
						return &IntegrityError{Path: p, Msg: "truncated report: missing " + closeIterations}
					}
					return err
				}
				_, err = dst.Write(line)
				if err != nil {
					return err
				}
			}
		}()
		if err != nil {
			return err
		}
	}
	_, err := io.WriteString(dst, "  "+closeIterations+"\n</BlastOutput>\n\n")
	return err
}

// readHeader returns the header of a BLAST XML report up to and
// including the line opening the first iteration.
func readHeader(path string, r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if len(line) == 0 && err == io.EOF {
		return nil, &IntegrityError{Path: path, Msg: "empty report"}
	}
	if string(bytes.TrimSpace(line)) != xmlDecl {
		return nil, &IntegrityError{Path: path, Msg: "not an XML report"}
	}
	header := line
	line, _ = r.ReadBytes('\n')
	if !bytes.HasPrefix(bytes.TrimSpace(line), []byte(doctype)) {
		return nil, &IntegrityError{Path: path, Msg: "not a BLAST XML report"}
	}
	header = append(header, line...)
	for {
		line, err := r.ReadBytes('\n')
		header = append(header, line...)
		if bytes.Contains(line, []byte(openIteration)) {
			break
		}
		if err != nil {
			if err == io.EOF {
				return nil, &IntegrityError{Path: path, Msg: "truncated report: no iterations"}
			}
			return nil, err
		}
		if len(header) > HeaderLimit {
			return nil, &IntegrityError{Path: path, Msg: "header too long"}
		}
	}
	if !bytes.Contains(header, []byte("<BlastOutput>")) {
		return nil, &IntegrityError{Path: path, Msg: "malformed header"}
	}
	return header, nil
}

func prefix(b []byte) []byte {
	if len(b) > HeaderPrefix {
		return b[:HeaderPrefix]
	}
	return b
}

// VerifyXML decodes the BLAST XML report at path and returns the number
// of iterations it holds.
func VerifyXML(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	o, err := blast.DecodeXML(bufio.NewReader(f))
	if err != nil {
		return 0, &IntegrityError{Path: path, Msg: "invalid report", Err: err}
	}
	return len(o.Iterations), nil
}

// FilterLines removes the lines of the tabular output at path that do
// not satisfy f. Comment lines are retained. It returns the number of
// lines kept and removed.
func FilterLines(path string, f *search.LineFilter) (kept, removed int, err error) {
	if f == nil || len(f.Min) == 0 {
		return 0, 0, nil
	}
	src, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer src.Close()

	err = replace(path, func(w io.Writer) error {
		r := bufio.NewReader(src)
		for n := 1; ; n++ {
			line, err := r.ReadString('\n')
			if len(line) != 0 {
				ok, ferr := keep(line, f)
				if ferr != nil {
					return fmt.Errorf("join: %s:%d: %w", path, n, ferr)
				}
				if ok {
					kept++
					_, werr := io.WriteString(w, line)
					if werr != nil {
						return werr
					}
				} else {
					removed++
				}
			}
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
		}
	})
	return kept, removed, err
}

func keep(line string, f *search.LineFilter) (bool, error) {
	text := strings.TrimRight(line, "\r\n")
	if text == "" || strings.HasPrefix(text, "#") {
		return true, nil
	}
	fields := strings.Split(text, f.Sep)
	for _, c := range f.Min {
		if c.Column >= len(fields) {
			return false, fmt.Errorf("no %s column", c.Name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[c.Column]), 64)
		if err != nil {
			return false, fmt.Errorf("invalid %s: %w", c.Name, err)
		}
		if v < c.Min {
			return false, nil
		}
	}
	return true, nil
}
