// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package search

// Culling describes the columns of a tabular output used to remove
// hits that are contained within a higher scoring hit to the same
// query.
type Culling struct {
	// Sep is the column separator.
	Sep string
	// Query, Start, End and Score are the columns holding the query
	// name, the 1-based query alignment bounds and the bit score.
	Query, Start, End, Score int
}

// vsearchCulling is the fixed column layout of --blast6out.
var vsearchCulling = Culling{Sep: "\t", Query: 0, Start: 6, End: 7, Score: 11}

// CullColumns returns the culling columns for the output of backend k
// run with params p.
func CullColumns(k Kind, p Params) (*Culling, error) {
	switch k {
	case BLAST:
		o, err := blastBackend{}.outFormat(p)
		if err != nil {
			return nil, err
		}
		if !o.Tabular() {
			return nil, configErrorf("cannot cull contained hits: -outfmt %d is not tabular", o.Number)
		}
		c := &Culling{
			Sep:   o.Separator(),
			Query: o.Column("qaccver", "qseqid", "qacc"),
			Start: o.Column("qstart"),
			End:   o.Column("qend"),
			Score: o.Column("bitscore"),
		}
		if c.Query < 0 || c.Start < 0 || c.End < 0 || c.Score < 0 {
			return nil, configErrorf("cannot cull contained hits: -outfmt must report query id, qstart, qend and bitscore")
		}
		return c, nil
	case VSEARCH:
		c := vsearchCulling
		return &c, nil
	}
	return nil, configErrorf("%v output cannot be culled", k)
}
