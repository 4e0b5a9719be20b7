// Package enroll builds identity records from an identity source file: a
// JSON document listing people and pictures of them.
package enroll

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/facewatch/internal/constants"
)

var (
	// ErrBadExtension is returned when the source file is not a .json file.
	ErrBadExtension = errors.New("please provide a json file with the .json extension")

	// ErrSourceNotFound is returned when the source file does not exist.
	ErrSourceNotFound = errors.New("identity source does not exist")
)

// Person is one entry of an identity source.
type Person struct {
	Name   string   `json:"name"`
	Images []string `json:"images"`
}

// Source is the parsed identity source file.
type Source struct {
	ImgFolderPath string   `json:"img_folder_path"`
	Details       []Person `json:"details"`

	// ImageDir is ImgFolderPath resolved against the data directory.
	ImageDir string `json:"-"`
}

// ResolveSource validates dataFile and returns its path inside dataDir.
func ResolveSource(dataDir, dataFile string) (string, error) {
	dataFile = strings.TrimSpace(dataFile)
	if !strings.HasSuffix(dataFile, constants.IdentitySourceExt) {
		return "", ErrBadExtension
	}
	if !filepath.IsLocal(dataFile) {
		return "", fmt.Errorf("%w: %s is outside the data directory", ErrSourceNotFound, dataFile)
	}

	path := filepath.Join(dataDir, dataFile)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrSourceNotFound, path)
	}
	return path, nil
}

// ReadSource parses the identity source at path. Image folders are resolved
// against dataDir.
func ReadSource(dataDir, path string) (*Source, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is validated by ResolveSource
	if err != nil {
		return nil, fmt.Errorf("reading identity source: %w", err)
	}

	var src Source
	if err := json.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("parsing identity source %s: %w", path, err)
	}
	src.ImageDir = filepath.Join(dataDir, src.ImgFolderPath)
	return &src, nil
}
