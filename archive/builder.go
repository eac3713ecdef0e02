// Package archive builds the single compressed container a transfer's
// payload is sent as. It walks an ordered list of file/directory paths and
// produces one ZIP file whose total size is known before the first byte
// is sent, mirroring the directory-zipping logic of the reference
// implementation this was ported from (which shelled out to a zip crate
// for the identical purpose): recurse each directory, prefix entries with
// the root's basename, and normalize separators to forward slashes so the
// archive is portable across the sending and receiving platforms.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/InterShare/InterShareSDK/log"
)

var archiveLog = log.Default().Module("archive")

// Built is a finished archive ready to be streamed: a temp file opened for
// reading, positioned at the start, plus its total byte size.
type Built struct {
	File *os.File
	Size int64
}

// Close releases the archive's temp file. Callers should call this once
// the archive has been fully streamed (or the transfer has failed).
func (b *Built) Close() error {
	name := b.File.Name()
	closeErr := b.File.Close()
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		if closeErr == nil {
			closeErr = err
		}
	}
	return closeErr
}

// Build walks paths (files and/or directories, in order) and produces a
// single ZIP archive under a fresh file in tmpDir. Unreadable entries are
// logged and skipped; the archive still finishes as long as at least the
// container itself could be written.
func Build(paths []string, tmpDir string) (*Built, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("archive: no paths to send")
	}

	tmp, err := os.CreateTemp(tmpDir, "nearbyshare-send-*.zip")
	if err != nil {
		return nil, fmt.Errorf("archive: create temp file: %w", err)
	}

	zw := zip.NewWriter(tmp)
	for _, p := range paths {
		if err := addPath(zw, p); err != nil {
			archiveLog.Warn("skipping unreadable path", "path", p, "error", err)
		}
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("archive: finish zip: %w", err)
	}

	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("archive: stat temp file: %w", err)
	}
	size := info.Size()

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("archive: rewind temp file: %w", err)
	}

	return &Built{File: tmp, Size: size}, nil
}

// addPath adds a single top-level path (file or directory) to zw, using
// its basename as the entry prefix.
func addPath(zw *zip.Writer, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", path, err)
	}

	base := filepath.Base(filepath.Clean(path))

	if !info.IsDir() {
		return addFile(zw, path, base, info)
	}

	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			archiveLog.Warn("skipping unreadable entry", "path", walkPath, "error", walkErr)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(path, walkPath)
		if err != nil {
			archiveLog.Warn("skipping entry outside root", "path", walkPath, "error", err)
			return nil
		}
		entryName := filepath.ToSlash(filepath.Join(base, rel))
		fi, err := d.Info()
		if err != nil {
			archiveLog.Warn("skipping unreadable entry", "path", walkPath, "error", err)
			return nil
		}
		if err := addFile(zw, walkPath, entryName, fi); err != nil {
			archiveLog.Warn("skipping entry that could not be archived", "path", walkPath, "error", err)
		}
		return nil
	})
}

// addFile streams a single file's contents into zw under entryName.
func addFile(zw *zip.Writer, diskPath, entryName string, info fs.FileInfo) error {
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("archive: build header for %s: %w", diskPath, err)
	}
	header.Name = entryName
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("archive: create entry %s: %w", entryName, err)
	}

	f, err := os.Open(diskPath)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", diskPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("archive: write entry %s: %w", entryName, err)
	}
	return nil
}
