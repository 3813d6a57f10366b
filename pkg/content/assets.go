package content

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// GeneratedDir is the subdirectory where exported AI generated images live
const GeneratedDir = "dalle-generations"

type assetFile struct {
	name      string
	path      string
	generated bool
}

// assetIndex is a read-only listing of the asset area, built once per run
type assetIndex struct {
	files []assetFile
}

func newAssetIndex(dir string) (*assetIndex, error) {
	idx := &assetIndex{}
	if dir == "" {
		return idx, nil
	}

	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to stat asset directory", goerr.V("path", dir))
	}
	if !info.IsDir() {
		return nil, goerr.New("asset path is not a directory", goerr.V("path", dir))
	}

	top, err := listFiles(dir, false)
	if err != nil {
		return nil, err
	}
	generated, err := listFiles(filepath.Join(dir, GeneratedDir), true)
	if err != nil {
		return nil, err
	}

	// the top level directory wins over generated images
	idx.files = append(top, generated...)
	return idx, nil
}

func listFiles(dir string, generated bool) ([]assetFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list asset directory", goerr.V("path", dir))
	}

	var files []assetFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		files = append(files, assetFile{
			name:      entry.Name(),
			path:      filepath.Join(dir, entry.Name()),
			generated: generated,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, nil
}

// lookup finds the first file whose name starts with the file ID. Exported
// files are named "<file id>-<original name>".
func (x *assetIndex) lookup(fileID string) (assetFile, bool) {
	if fileID == "" {
		return assetFile{}, false
	}
	for _, f := range x.files {
		if strings.HasPrefix(f.name, fileID) {
			return f, true
		}
	}
	return assetFile{}, false
}

func (x *assetIndex) len() int {
	return len(x.files)
}
