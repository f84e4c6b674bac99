package job

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const ArchiveExt = ".ace"

type CollectOptions struct {
	// LookIntoFolders adds the archives found below a folder instead of
	// ignoring the folder.
	LookIntoFolders bool
	// TreatAllFilesAsArchives disables the extension filter.
	TreatAllFilesAsArchives bool
}

// CollectArchives expands the given paths into the list of archive files
// that should become jobs, preserving the order they were given in.
func CollectArchives(paths []string, opts CollectOptions) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("cannot add %s: %w", p, err)
		}
		if !info.IsDir() {
			if opts.accepts(p) {
				out = append(out, p)
			}
			continue
		}
		if !opts.LookIntoFolders {
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() && opts.accepts(path) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("cannot scan %s: %w", p, err)
		}
	}
	return out, nil
}

func (o CollectOptions) accepts(path string) bool {
	return o.TreatAllFilesAsArchives || strings.EqualFold(filepath.Ext(path), ArchiveExt)
}
