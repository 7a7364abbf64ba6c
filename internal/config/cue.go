// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cerrors "cuelang.org/go/cue/errors"
)

// Schema is the CUE schema for a valid configuration.
const Schema = `
#Config

#Config: {
	pause?:          "running" | "first" | "current" | "preferred"
	inactivity?:     #duration
	min_delay?:      #duration
	workers?:        int & >=0
	network?:        "unix" | "tcp"
	addr?:           string
	log_level?:      =~"(?i)^(?:debug|info|warn|error)$"
	log_add_source?: bool
	data_dir?:       string
	deck?:           #deck
	animation?: [...#animation]
}

#deck: {
	pid?:        int & >=0 & <=0xffff
	serial?:     string
	brightness?: int & >=0 & <=100
	toggle?:     "first" | "current" | "preferred"
}

#animation: {
	name:       string & !=""
	source:     string & !=""
	row?:       int & >=0
	col?:       int & >=0
	preferred?: int & >=0
}

#duration: =~#"^(?:[0-9]+(?:\.[0-9]+)?(?:ns|us|µs|ms|s|m|h))+$"#
`

// Validate performs a validation of the provided configuration value, returning
// a list of invalid paths and a CUE errors.Error explaining the issues found if
// the configuration is invalid according to the provided schema.
func Validate(schema string, cfg any) (paths [][]string, err error) {
	ctx := cuecontext.New()

	v := ctx.CompileString(schema)
	if v.Err() != nil {
		return nil, v.Err()
	}
	w := ctx.Encode(cfg)
	if w.Err() != nil {
		return nil, w.Err()
	}

	u := v.Unify(w)
	err = u.Validate(cue.Concrete(true), cue.Final())
	errs := cerrors.Errors(err)
	if len(errs) != 0 {
		paths = make([][]string, 0, len(errs))
		err = cerrors.Append(
			cerrors.Promote(err, ""),
			cerrors.Promote(fmt.Errorf("%s", u), "not concrete"),
		)
	}
	for _, err := range errs {
		p := cerrors.Path(err)
		if p != nil {
			paths = append(paths, p)
		}
	}

	return unique(paths), err
}

// unique returns paths lexically sorted in ascending order and with repeated
// elements omitted.
func unique(paths [][]string) [][]string {
	slices.SortFunc(paths, slices.Compare)
	return slices.CompactFunc(paths, slices.Equal)
}
