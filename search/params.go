// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package search

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Filter is the backend independent set of result constraints.
// Zero valued fields place no constraint on results.
type Filter struct {
	// EValue is the upper bound on reported significance.
	EValue float64 `mapstructure:"e_value"`
	// MaxTargets is the maximum number of hits reported per query.
	MaxTargets int `mapstructure:"max_targets"`
	// MinIdentity is the minimum fractional identity of a hit, in [0,1].
	MinIdentity float64 `mapstructure:"min_identity"`
	// MinCoverage is the minimum fractional query coverage of a hit, in [0,1].
	MinCoverage float64 `mapstructure:"min_coverage"`
}

// Validate checks that the filter values are in range.
func (f Filter) Validate() error {
	switch {
	case f.EValue < 0 || math.IsNaN(f.EValue) || math.IsInf(f.EValue, 0):
		return configErrorf("e_value must be a non-negative finite number: %v", f.EValue)
	case f.MaxTargets < 0:
		return configErrorf("max_targets must be positive: %d", f.MaxTargets)
	case !(0 <= f.MinIdentity && f.MinIdentity <= 1):
		return configErrorf("min_identity must be in [0,1]: %v", f.MinIdentity)
	case !(0 <= f.MinCoverage && f.MinCoverage <= 1):
		return configErrorf("min_coverage must be in [0,1]: %v", f.MinCoverage)
	}
	return nil
}

// Param is a single command line flag. An empty Value
// is rendered as a bare flag.
type Param struct {
	Flag  string
	Value string
}

// Params is an ordered set of command line flags.
type Params []Param

// ParseParam parses a "flag=value" or bare "flag" string.
func ParseParam(s string) (Param, error) {
	flag, value, _ := strings.Cut(s, "=")
	flag = strings.TrimSpace(flag)
	if flag == "" || !strings.HasPrefix(flag, "-") {
		return Param{}, configErrorf("invalid backend parameter %q: flags must start with '-'", s)
	}
	return Param{Flag: flag, Value: value}, nil
}

// ParamsFromMap returns the flags in m ordered by flag name.
func ParamsFromMap(m map[string]string) Params {
	p := make(Params, 0, len(m))
	for k, v := range m {
		p = append(p, Param{Flag: k, Value: v})
	}
	sort.Slice(p, func(i, j int) bool { return p[i].Flag < p[j].Flag })
	return p
}

// Args returns the flags as an argument vector.
func (p Params) Args() []string {
	args := make([]string, 0, 2*len(p))
	for _, f := range p {
		args = append(args, f.Flag)
		if f.Value != "" {
			args = append(args, f.Value)
		}
	}
	return args
}

// Lookup returns the value of the last occurrence of the flag
// in p. Leading dashes are not significant.
func (p Params) Lookup(flag string) (value string, ok bool) {
	name := strings.TrimLeft(flag, "-")
	for i := len(p) - 1; i >= 0; i-- {
		if strings.TrimLeft(p[i].Flag, "-") == name {
			return p[i].Value, true
		}
	}
	return "", false
}

// shadow returns translated with any flags also given in
// overrides removed, followed by overrides.
func shadow(translated, overrides Params) Params {
	p := make(Params, 0, len(translated)+len(overrides))
	for _, f := range translated {
		if _, ok := overrides.Lookup(f.Flag); ok {
			continue
		}
		p = append(p, f)
	}
	return append(p, overrides...)
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
