// Package content computes stable fingerprints for save directories and
// archive files. A missing path is an error, not an empty result: callers
// use a failed hash to mean the save path is currently invalid.
package content

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// digestLen is the number of hex characters kept from a digest.
const digestLen = 10

// ListDir returns the relative POSIX-style paths of every regular file under
// dir, sorted lexicographically so results do not depend on enumeration order.
func ListDir(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// HashDirectory fingerprints the file tree under dir: every (relative path,
// content) pair is fed into a single hash in sorted path order, so two trees
// with the same names and bytes produce the same digest.
func HashDirectory(dir string) (string, error) {
	files, err := ListDir(dir)
	if err != nil {
		return "", err
	}

	h := sha1.New()
	for _, rel := range files {
		io.WriteString(h, rel)
		f, err := os.Open(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:digestLen], nil
}

// SizeDirectory sums the byte sizes of every regular file under dir.
func SizeDirectory(dir string) (int64, error) {
	files, err := ListDir(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, rel := range files {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// HashFile fingerprints a single file's bytes with the same truncation as
// HashDirectory, so the two are visually comparable but never conflated.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:digestLen], nil
}
