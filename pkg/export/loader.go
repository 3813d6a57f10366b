package export

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Load parses an export file, or every *.json file of a directory in lexical
// order. Failures carry the name of the file they come from.
func Load(path string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat export path", goerr.V("path", path))
	}

	if !info.IsDir() {
		return loadFile(path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read export directory", goerr.V("path", path))
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".json") {
			continue
		}
		files = append(files, filepath.Join(path, entry.Name()))
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, goerr.New("no export files found", goerr.V("path", path))
	}

	result := &Result{}
	for _, file := range files {
		r, err := loadFile(file)
		if err != nil {
			return nil, err
		}
		result.merge(r)
	}

	return result, nil
}

func loadFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open export file", goerr.V("path", path))
	}
	defer f.Close()

	result, err := Parse(f)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse export file", goerr.V("path", path))
	}

	name := filepath.Base(path)
	for _, failure := range result.Failures {
		failure.File = name
	}

	return result, nil
}
