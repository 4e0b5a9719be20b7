// Package static holds the browser pages served next to the API: the stream
// viewer (index.html) and the settings form (settings.html).
package static

import (
	"embed"
	"errors"
	"io/fs"
	"path"
	"strings"
)

//go:embed all:dist/*
var distFS embed.FS

// ErrNotFound is returned for names that do not resolve to an embedded file.
var ErrNotFound = errors.New("static file not found")

// Page returns the embedded file for a URL path such as "/settings.html".
// Directories and paths escaping dist are reported as ErrNotFound.
func Page(urlPath string) ([]byte, error) {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" || name == "." {
		return nil, ErrNotFound
	}

	data, err := fs.ReadFile(distFS, "dist/"+name)
	if err != nil {
		return nil, ErrNotFound
	}
	return data, nil
}

// Names lists the embedded files, for diagnostics and tests.
func Names() []string {
	entries, err := fs.ReadDir(distFS, "dist")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}
