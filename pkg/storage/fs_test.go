package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWrite_WritesFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "test.md")
	if err := AtomicWrite(p, []byte("hello world")); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}
	got, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Errorf("content = %q", got)
	}
}

func TestAtomicWrite_CreatesParentDirs(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a", "b", "c.md")
	if err := AtomicWrite(p, []byte("deep")); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}
	got, _ := os.ReadFile(p)
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestAtomicWrite_NoLeftoverTempFiles(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "clean.md")
	_ = AtomicWrite(p, []byte("v1"))
	if err := AtomicWrite(p, []byte("v2")); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "clean.md" {
		t.Errorf("unexpected dir contents: %v", entries)
	}
	got, _ := os.ReadFile(p)
	if string(got) != "v2" {
		t.Errorf("content = %q", got)
	}
}

func TestAtomicWrite_FailedRenameLeavesTargetAndNoTemp(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "occupied.md")
	// A non-empty directory at the target makes the final rename fail.
	if err := os.MkdirAll(filepath.Join(target, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := AtomicWrite(target, []byte("data")); err == nil {
		t.Fatal("expected rename failure")
	}
	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		t.Fatalf("target should be untouched: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, TempPrefix+"*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestIsTemp(t *testing.T) {
	if !IsTemp("/x/y/" + TempPrefix + "123") {
		t.Error("temp name not recognised")
	}
	if IsTemp("/x/y/doc.md") {
		t.Error("regular file reported as temp")
	}
}
