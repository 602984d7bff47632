package main

import (
	"errors"
	"fmt"

	"github.com/danmuck/postal/internal/idl"
	"github.com/danmuck/postal/internal/kvstore"
	"github.com/danmuck/postal/internal/protocol/schema"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

const builtinName = "<builtin kv>"

// compile parses, validates and builds path. An empty path selects the
// built-in key/value contract.
func compile(path, unit string) (*idl.Definition, *schema.Registry, error) {
	var (
		def *idl.Definition
		err error
	)
	if path == "" {
		def, err = idl.Parse(kvstore.Source)
		unit = kvstore.Unit
	} else {
		def, err = idl.ParseFile(path)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := idl.Validate(def); err != nil {
		return def, nil, err
	}
	reg, err := schema.Build(def, unit)
	if err != nil {
		return def, nil, err
	}
	return def, reg, nil
}

// report prints every problem in err as a path-prefixed diagnostic.
func report(cmd *cobra.Command, path string, err error) error {
	if path == "" {
		path = builtinName
	}
	bad, _ := palette(cmd)
	w := cmd.ErrOrStderr()
	for _, e := range multierr.Errors(err) {
		var se *idl.SyntaxError
		if errors.As(e, &se) {
			fmt.Fprintf(w, "%s:%d:%d: %s expected %s, found %s\n", path, se.Line, se.Column, bad.Sprint("error:"), se.Expected, se.Found)
			continue
		}
		fmt.Fprintf(w, "%s: %s %v\n", path, bad.Sprint("error:"), e)
	}
	return errReported
}
