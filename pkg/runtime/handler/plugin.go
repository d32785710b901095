package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"strings"
)

// Extensions is the ordered list of file extensions probed when locating a
// compiled handler module. The first existing file wins.
var Extensions = []string{".so", ".plugin"}

// PluginLoader loads handlers from Go plugins on disk. The module path of the
// reference is resolved relative to the code directory and probed with each
// entry of Extensions in order.
type PluginLoader struct{}

// findModuleFile probes <codeDir>/<modulePath><ext> for each extension and
// returns the first path that exists.
func findModuleFile(codeDir, modulePath string) (string, error) {
	tried := make([]string, 0, len(Extensions))
	for _, ext := range Extensions {
		path := filepath.Join(codeDir, modulePath+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		tried = append(tried, path)
	}
	return "", fmt.Errorf("no module file found, tried: %s", strings.Join(tried, ", "))
}

// Load implements Loader.
func (PluginLoader) Load(ref Reference, codeDir string) (Handler, error) {
	path, err := findModuleFile(codeDir, ref.ModulePath)
	if err != nil {
		return nil, &StartupError{Locator: ref.Locator(), Reason: err.Error()}
	}

	p, err := plugin.Open(path)
	if err != nil {
		return nil, &StartupError{Locator: ref.Locator(), Reason: fmt.Sprintf("failed to load module %s", path), Err: err}
	}

	sym, err := p.Lookup(ref.ExportName)
	if err != nil {
		return nil, &StartupError{Locator: ref.Locator(), Reason: fmt.Sprintf("export %q not found in %s", ref.ExportName, path), Err: err}
	}

	h, err := asHandler(sym)
	if err != nil {
		return nil, &StartupError{Locator: ref.Locator(), Reason: err.Error()}
	}
	return h, nil
}

// asHandler converts a plugin symbol to a Handler. Plugins may export the
// function directly or as a package-level variable, so both the value and a
// pointer to it are accepted.
func asHandler(sym any) (Handler, error) {
	switch v := sym.(type) {
	case Handler:
		return v, nil
	case *Handler:
		return *v, nil
	case func(context.Context, json.RawMessage) (any, error):
		return v, nil
	case *func(context.Context, json.RawMessage) (any, error):
		return *v, nil
	default:
		return nil, fmt.Errorf("export has type %T, want func(context.Context, json.RawMessage) (any, error)", sym)
	}
}
