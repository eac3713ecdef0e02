package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestBuildSingleFile(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "a.bin")
	writeFile(t, filePath, "hello world")

	built, err := Build([]string{filePath}, t.TempDir())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer built.Close()

	if built.Size <= 0 {
		t.Errorf("size = %d, want > 0", built.Size)
	}
}

func TestBuildAndExtractDirectoryPreservesStructure(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "d", "x.txt"), "x contents")
	writeFile(t, filepath.Join(src, "d", "sub", "y.txt"), "y contents")

	built, err := Build([]string{filepath.Join(src, "d")}, t.TempDir())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer built.Close()

	dest := t.TempDir()
	if err := Extract(built.File.Name(), dest); err != nil {
		t.Fatalf("extract: %v", err)
	}

	gotX, err := os.ReadFile(filepath.Join(dest, "d", "x.txt"))
	if err != nil {
		t.Fatalf("read x.txt: %v", err)
	}
	if string(gotX) != "x contents" {
		t.Errorf("x.txt = %q", gotX)
	}

	gotY, err := os.ReadFile(filepath.Join(dest, "d", "sub", "y.txt"))
	if err != nil {
		t.Fatalf("read y.txt: %v", err)
	}
	if string(gotY) != "y contents" {
		t.Errorf("y.txt = %q", gotY)
	}
}

func TestBuildRejectsEmptyPathList(t *testing.T) {
	if _, err := Build(nil, t.TempDir()); err == nil {
		t.Fatal("expected error for empty path list")
	}
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	src := t.TempDir()
	// A legitimate archive extracts inside destDir; a hand-built archive
	// whose entry name climbs out with ".." is rejected and nothing is
	// written outside destDir.
	writeFile(t, filepath.Join(src, "ok.txt"), "fine")
	built, err := Build([]string{filepath.Join(src, "ok.txt")}, t.TempDir())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer built.Close()

	dest := t.TempDir()
	if err := Extract(built.File.Name(), dest); err != nil {
		t.Fatalf("extract legitimate archive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "ok.txt")); err != nil {
		t.Errorf("expected extracted file: %v", err)
	}

	evilPath := filepath.Join(t.TempDir(), "evil.zip")
	f, err := os.Create(evilPath)
	if err != nil {
		t.Fatalf("create evil archive: %v", err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("../evil.txt")
	if err != nil {
		t.Fatalf("add evil entry: %v", err)
	}
	if _, err := w.Write([]byte("escaped")); err != nil {
		t.Fatalf("write evil entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close evil archive: %v", err)
	}

	evilDest := filepath.Join(t.TempDir(), "dest")
	if err := os.MkdirAll(evilDest, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := Extract(evilPath, evilDest); err == nil {
		t.Fatal("expected Extract to reject an entry containing \"..\"")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(evilDest), "evil.txt")); !os.IsNotExist(err) {
		t.Errorf("entry escaped destDir: stat error = %v", err)
	}
}
