package content

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, body := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHashDirectoryDeterministic(t *testing.T) {
	files := map[string]string{
		"slot1.sav":        "alpha",
		"nested/slot2.sav": "beta",
		"meta.json":        `{"v":1}`,
	}

	a := t.TempDir()
	b := t.TempDir()
	writeTree(t, a, files)
	writeTree(t, b, files)

	ha, err := HashDirectory(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := HashDirectory(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("identical trees hashed differently: %s vs %s", ha, hb)
	}
	if len(ha) != digestLen {
		t.Fatalf("digest length = %d, want %d", len(ha), digestLen)
	}
}

func TestHashDirectoryContentSensitive(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeTree(t, a, map[string]string{"slot1.sav": "alpha"})
	writeTree(t, b, map[string]string{"slot1.sav": "omega"})

	ha, _ := HashDirectory(a)
	hb, _ := HashDirectory(b)
	if ha == hb {
		t.Fatal("different contents produced equal hashes")
	}
}

func TestHashDirectoryNameSensitive(t *testing.T) {
	a := t.TempDir()
	b := t.TempDir()
	writeTree(t, a, map[string]string{"slot1.sav": "alpha"})
	writeTree(t, b, map[string]string{"slot2.sav": "alpha"})

	ha, _ := HashDirectory(a)
	hb, _ := HashDirectory(b)
	if ha == hb {
		t.Fatal("different file names produced equal hashes")
	}
}

func TestHashDirectoryMissingPathFails(t *testing.T) {
	if _, err := HashDirectory(filepath.Join(t.TempDir(), "gone")); err == nil {
		t.Fatal("missing directory should fail loudly")
	}
	if _, err := SizeDirectory(filepath.Join(t.TempDir(), "gone")); err == nil {
		t.Fatal("missing directory should fail loudly")
	}
}

func TestSizeDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"a.sav":      "12345",
		"sub/b.sav":  "123",
		"sub/c.bin":  "12",
	})

	size, err := SizeDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	if size != 10 {
		t.Fatalf("size = %d, want 10", size)
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "save.zip")
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	h, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != digestLen {
		t.Fatalf("digest length = %d, want %d", len(h), digestLen)
	}

	// Equal to the directory hash only by construction, never by accident:
	// the directory hash mixes names in.
	dh, err := HashDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	if dh == h {
		t.Fatal("file hash and directory hash should differ for the same bytes")
	}
}
