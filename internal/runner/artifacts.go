package runner

import (
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"
)

// MetaDir holds harness files inside the working directory. It is excluded
// from artifacts.
const MetaDir = ".gauntlet"

// Snapshot maps every regular file under root (relative, slash separated) to
// its blake3 digest.
func Snapshot(root string) (map[string]string, error) {
	digests := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (d.Name() == ".git" || d.Name() == MetaDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		sum, err := digestFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		digests[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return nil, err
	}
	return digests, nil
}

func digestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Changed lists files created, modified or deleted between two snapshots,
// sorted. The returned artifacts map holds the new digest of every created
// or modified file.
func Changed(before, after map[string]string) ([]string, map[string]string) {
	var files []string
	artifacts := make(map[string]string)
	for path, sum := range after {
		if before[path] != sum {
			files = append(files, path)
			artifacts[path] = sum
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			files = append(files, path)
		}
	}
	sort.Strings(files)
	return files, artifacts
}
