package ignore

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Walk calls fn for every regular file under root that m does not ignore.
// Ignored directories are not descended into, and .kbindexignore files
// found along the way are added to m scoped to their directory.
func Walk(root string, m *Matcher, fn func(path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if d.IsDir() {
			if rel != "." && m.Match(rel, true) {
				return filepath.SkipDir
			}
			if ign := filepath.Join(path, FileName); fileExists(ign) {
				base := rel
				if base == "." {
					base = ""
				}
				if err := m.AddFile(ign, base); err != nil {
					return err
				}
			}
			return nil
		}

		if !d.Type().IsRegular() || d.Name() == FileName || m.Match(rel, false) {
			return nil
		}
		return fn(path)
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
