// Package archive packs a save directory into a zip file and extracts one
// back, preserving the relative file tree.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/whitecloud/save-agent/internal/content"
)

// Pack writes a zip archive of every file under srcDir to destFile.
// Entries use POSIX-style relative paths in sorted order.
func Pack(srcDir, destFile string) error {
	files, err := content.ListDir(srcDir)
	if err != nil {
		return fmt.Errorf("list save directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destFile), 0755); err != nil {
		return fmt.Errorf("create backup folder: %w", err)
	}

	out, err := os.Create(destFile)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, rel := range files {
		w, err := zw.Create(rel)
		if err != nil {
			zw.Close()
			return fmt.Errorf("add %s: %w", rel, err)
		}
		f, err := os.Open(filepath.Join(srcDir, filepath.FromSlash(rel)))
		if err != nil {
			zw.Close()
			return fmt.Errorf("read %s: %w", rel, err)
		}
		_, err = io.Copy(w, f)
		f.Close()
		if err != nil {
			zw.Close()
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return out.Sync()
}

// Extract unpacks srcFile into destDir. destDir must already be empty or
// cleared by the caller; existing files with matching names are overwritten.
func Extract(srcFile, destDir string) error {
	zr, err := zip.OpenReader(srcFile)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		rel := filepath.FromSlash(entry.Name)
		if strings.Contains(entry.Name, "..") {
			return fmt.Errorf("archive entry escapes target: %s", entry.Name)
		}
		target := filepath.Join(destDir, rel)

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("create %s: %w", rel, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("create %s: %w", rel, err)
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open entry %s: %w", rel, err)
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return fmt.Errorf("create %s: %w", rel, err)
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("extract %s: %w", rel, err)
		}
	}
	return nil
}
