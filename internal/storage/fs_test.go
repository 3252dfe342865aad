package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/checksum"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	f, err := NewFS(t.TempDir(), ".yaml", ".YML")
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return f
}

func TestFS_RoundTrip(t *testing.T) {
	f := newTestFS(t)
	for _, p := range []string{"daily.yaml", "u1/projects/basic.yaml"} {
		want := []byte("name: " + p + "\n")
		if err := f.Write(p, want); err != nil {
			t.Fatalf("Write(%q): %v", p, err)
		}
		got, err := f.Read(p)
		if err != nil {
			t.Fatalf("Read(%q): %v", p, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Read(%q) = %q, want %q", p, got, want)
		}
	}

	// Overwrite leaves no temp file behind.
	if err := f.Write("daily.yaml", []byte("name: v2\n")); err != nil {
		t.Fatal(err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(f.Root(), tempPrefix+"*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left: %v", leftovers)
	}
}

func TestFS_DeleteMissing(t *testing.T) {
	f := newTestFS(t)
	if err := f.Write("gone.yaml", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := f.Delete("gone.yaml"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := f.Read("gone.yaml"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Read after delete: %v, want ErrNotFound", err)
	}
	if err := f.Delete("gone.yaml"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second Delete: %v, want ErrNotFound", err)
	}
}

func TestFS_ListVisibleDocumentsSorted(t *testing.T) {
	f := newTestFS(t)
	files := map[string]string{
		"review.yaml":         "r",
		"b/basic.yml":         "b",
		"a.yaml":              "a",
		"notes.txt":           "skip",
		".draft.yaml":         "hidden",
		".cache/stale.yaml":   "hidden dir",
		"b/.lifeagent-tmp-12": "temp",
	}
	for p, body := range files {
		abs := filepath.Join(f.Root(), p)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := f.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"a.yaml", "b/basic.yml", "review.yaml"}
	if len(got) != len(want) {
		t.Fatalf("List = %+v, want paths %v", got, want)
	}
	for i, fi := range got {
		if fi.Path != want[i] {
			t.Errorf("List[%d].Path = %q, want %q", i, fi.Path, want[i])
		}
		if fi.Checksum != checksum.Sum([]byte(files[fi.Path])) {
			t.Errorf("%s: checksum mismatch", fi.Path)
		}
		if fi.Size != int64(len(files[fi.Path])) || fi.UpdatedAt.IsZero() {
			t.Errorf("%s: incomplete info %+v", fi.Path, fi)
		}
	}

	sub, err := f.List("b")
	if err != nil {
		t.Fatal(err)
	}
	if len(sub) != 1 || sub[0].Path != "b/basic.yml" {
		t.Errorf("List(b) = %+v", sub)
	}
}

func TestFS_RejectsPathsOutsideRoot(t *testing.T) {
	f := newTestFS(t)
	for _, p := range []string{"../outside.yaml", "a/../../etc/passwd", "/etc/shadow"} {
		if _, err := f.Read(p); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Read(%q) = %v, want ErrValidation", p, err)
		}
		if err := f.Write(p, []byte("x")); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Write(%q) = %v, want ErrValidation", p, err)
		}
		if err := f.Delete(p); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Delete(%q) = %v, want ErrValidation", p, err)
		}
	}
	if err := f.Write("", []byte("x")); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Write(\"\") = %v, want ErrValidation", err)
	}
}

func TestFS_SizeLimit(t *testing.T) {
	f := newTestFS(t)
	big := bytes.Repeat([]byte("x"), MaxDocumentBytes+1)

	if err := f.Write("big.yaml", big); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Write oversize = %v, want ErrValidation", err)
	}

	// A file dropped in from outside is listed without checksum and unreadable.
	if err := os.WriteFile(filepath.Join(f.Root(), "big.yaml"), big, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := f.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Checksum != "" || got[0].Size != int64(len(big)) {
		t.Errorf("List = %+v", got)
	}
	if _, err := f.Read("big.yaml"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Read oversize = %v, want ErrValidation", err)
	}
}

func TestFS_Matches(t *testing.T) {
	f := newTestFS(t)
	tests := map[string]bool{
		"daily.yaml":               true,
		"/abs/dir/Basic.YAML":      true,
		"x.yml":                    true,
		"notes.md":                 false,
		".hidden.yaml":             false,
		"/tmp/.lifeagent-tmp-1234": false,
	}
	for name, want := range tests {
		if got := f.Matches(name); got != want {
			t.Errorf("Matches(%q) = %v, want %v", name, got, want)
		}
	}

	all, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !all.Matches("anything.bin") {
		t.Error("provider without extensions should match every visible file")
	}
}

func TestNewFS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "templates")
	if _, err := NewFS(dir); err != nil {
		t.Fatalf("NewFS on missing dir: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("root not created: %v", err)
	}

	file := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFS(file); err == nil {
		t.Error("NewFS on a file should fail")
	}
}
