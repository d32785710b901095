// Package handler resolves a handler locator string to a callable function.
// A locator has the form "<relative-path>.<exportName>", e.g. "api/hello.Handler":
// the path part names a compiled module under the code directory, the export
// part names the function inside it.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Handler is the function invoked once per invocation. It receives the raw
// event payload and returns a value that is JSON-serialized into the
// invocation response. Request identity (request id, function ARN) travels in
// ctx via lambdacontext.
type Handler func(ctx context.Context, event json.RawMessage) (any, error)

// Reference is a parsed handler locator. It is resolved exactly once at
// startup and read-only afterwards.
type Reference struct {
	ModulePath string
	ExportName string
}

// Locator returns the reference in its original string form.
func (r Reference) Locator() string {
	return r.ModulePath + "." + r.ExportName
}

// ParseLocator splits a handler locator at its last dot into module path and
// export name. Both parts must be non-empty.
func ParseLocator(locator string) (Reference, error) {
	idx := strings.LastIndex(locator, ".")
	if idx <= 0 || idx == len(locator)-1 {
		return Reference{}, &StartupError{
			Locator: locator,
			Reason:  "locator must have the form <relative-path>.<exportName>",
		}
	}
	return Reference{ModulePath: locator[:idx], ExportName: locator[idx+1:]}, nil
}

// Loader loads the handler a reference points at. Load returns a *StartupError
// when the reference cannot be satisfied.
type Loader interface {
	Load(ref Reference, codeDir string) (Handler, error)
}

// Resolver tries each configured loader in order and returns the first handler
// found. It is the only component that touches module loading, and it runs once.
type Resolver struct {
	codeDir string
	loaders []Loader
}

func NewResolver(codeDir string, loaders ...Loader) *Resolver {
	return &Resolver{codeDir: codeDir, loaders: loaders}
}

// Resolve parses the locator and asks each loader for the handler. A loader
// error other than a miss is returned immediately; if every loader misses, the
// combined misses are reported in one StartupError.
func (r *Resolver) Resolve(locator string) (Handler, error) {
	ref, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}

	var misses []string
	for _, loader := range r.loaders {
		h, err := loader.Load(ref, r.codeDir)
		if err == nil {
			return h, nil
		}
		var se *StartupError
		if errors.As(err, &se) {
			misses = append(misses, se.Reason)
			continue
		}
		return nil, err
	}

	return nil, &StartupError{
		Locator: locator,
		Reason:  fmt.Sprintf("no loader could resolve the handler: %s", strings.Join(misses, "; ")),
	}
}
