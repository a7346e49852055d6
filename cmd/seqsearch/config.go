// Copyright ©2020 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kortschak/seqsearch/search"
	"github.com/kortschak/seqsearch/slurm"
	"github.com/kortschak/seqsearch/split"
)

// settings is the union of the configuration file and command line
// settings for all commands.
type settings struct {
	Input      string `mapstructure:"input"`
	QueryType  string `mapstructure:"query_type"`
	Database   string `mapstructure:"database"`
	DBType     string `mapstructure:"db_type"`
	Backend    string `mapstructure:"backend"`
	Executable string `mapstructure:"executable"`
	Threads    int    `mapstructure:"threads"`

	NumParts    int    `mapstructure:"num_parts"`
	PartSize    string `mapstructure:"part_size"`
	SeqsPerPart int    `mapstructure:"seqs_per_part"`
	PartsDir    string `mapstructure:"parts_dir"`
	KeepParts   bool   `mapstructure:"keep_parts"`
	Rewrap      int    `mapstructure:"rewrap"`
	IndexParts  bool   `mapstructure:"index_parts"`

	Filter search.Filter     `mapstructure:"filter"`
	Params map[string]string `mapstructure:"params"`
	Param  []string          `mapstructure:"param"`
	Cull   bool              `mapstructure:"cull"`

	Out           string `mapstructure:"out"`
	CaptureStdout bool   `mapstructure:"capture_stdout"`
	CaptureStderr bool   `mapstructure:"capture_stderr"`
	Verify        bool   `mapstructure:"verify"`

	Batch bool         `mapstructure:"batch"`
	Slurm slurm.Params `mapstructure:"slurm"`
	Poll  string       `mapstructure:"poll"`
}

// bindings maps flag names to settings keys.
var bindings = map[string]string{
	"input":          "input",
	"query-type":     "query_type",
	"db":             "database",
	"db-type":        "db_type",
	"backend":        "backend",
	"exe":            "executable",
	"threads":        "threads",
	"num-parts":      "num_parts",
	"part-size":      "part_size",
	"seqs-per-part":  "seqs_per_part",
	"parts-dir":      "parts_dir",
	"keep-parts":     "keep_parts",
	"rewrap":         "rewrap",
	"index-parts":    "index_parts",
	"e-value":        "filter.e_value",
	"max-targets":    "filter.max_targets",
	"min-identity":   "filter.min_identity",
	"min-coverage":   "filter.min_coverage",
	"param":          "param",
	"cull":           "cull",
	"out":            "out",
	"capture-stdout": "capture_stdout",
	"capture-stderr": "capture_stderr",
	"verify":         "verify",
	"slurm":          "batch",
	"partition":      "slurm.partition",
	"time":           "slurm.time",
	"qos":            "slurm.qos",
	"account":        "slurm.account",
	"mem":            "slurm.mem",
	"poll":           "poll",
}

// bindFlags binds the flags of cmd to their settings keys. It is
// called before a command runs so that commands sharing flag names
// do not shadow each other.
func bindFlags(cmd *cobra.Command, _ []string) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := bindings[f.Name]
		if !ok || err != nil {
			return
		}
		err = viper.BindPFlag(key, f)
	})
	return err
}

func loadSettings() (settings, error) {
	var s settings
	err := viper.Unmarshal(&s)
	if err != nil {
		return s, fmt.Errorf("unable to decode settings: %w", err)
	}
	return s, nil
}

// sizing returns the chunk sizing strategy described by s.
func (s settings) sizing() (split.Sizing, error) {
	z := split.Sizing{Parts: s.NumParts, SeqsPerPart: s.SeqsPerPart}
	if s.PartSize != "" {
		n, err := humanize.ParseBytes(s.PartSize)
		if err != nil {
			return z, search.Configf("invalid part size %q: %v", s.PartSize, err)
		}
		if n == 0 {
			return z, search.Configf("invalid part size %q", s.PartSize)
		}
		z.PartSize = int64(n)
	}
	return z, z.Validate()
}

// params returns the backend parameters from the settings file map
// followed by those given by flag. A flag given on the command line
// replaces the settings file entry for the same flag. Map keys have been
// lower cased by the settings decoder, so only the param list retains
// the case of flags.
func (s settings) params() (search.Params, error) {
	var flags search.Params
	for _, v := range s.Param {
		f, err := search.ParseParam(v)
		if err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	var p search.Params
	for _, f := range search.ParamsFromMap(s.Params) {
		if _, ok := flags.Lookup(f.Flag); ok {
			continue
		}
		p = append(p, f)
	}
	return append(p, flags...), nil
}

// database returns the database described by s.
func (s settings) database() (search.Database, error) {
	typ, err := search.ParseSeqType(s.DBType)
	if err != nil {
		return search.Database{}, err
	}
	return search.NewDatabase(s.Database, typ)
}

// sizingFlags adds the chunk sizing flags to fs.
func sizingFlags(fs *pflag.FlagSet) {
	fs.IntP("threads", "t", 0, "specify the number of threads available (<=0 is use all cores)")
	fs.Int("num-parts", 0, "specify the number of parts to split the query into")
	fs.String("part-size", "", "specify the approximate size of each part (e.g. 200KB, 1.5GB)")
	fs.Int("seqs-per-part", 0, "specify the number of sequences in each part")
	fs.String("parts-dir", "", "specify the directory for part files")
	fs.Int("rewrap", 0, "specify the sequence line width of part files (0 is copy verbatim)")
	fs.Bool("index-parts", false, "specify to write a .fai index for each part")
}

func oneOf(name, value string, valid ...string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return search.Configf("invalid %s %q: must be one of %s", name, value, strings.Join(valid, ", "))
}
