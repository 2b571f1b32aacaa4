package planner

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestScanUnderNonRecursiveOnlyLooksAtImmediateChildren(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.pptx"), 10)
	writeFile(t, filepath.Join(root, "ignore.txt"), 10)
	writeFile(t, filepath.Join(root, "sub", "nested.pptx"), 10)

	got, err := ScanUnder(root, false)
	if err != nil {
		t.Fatalf("ScanUnder: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d scans, want 1: %+v", len(got), got)
	}
	if filepath.Base(got[0].Path) != "top.pptx" {
		t.Fatalf("got %q, want top.pptx", got[0].Path)
	}
}

func TestScanUnderRecursiveDescendsIntoSubdirectories(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "top.pptx"), 10)
	writeFile(t, filepath.Join(root, "sub", "nested.pptx"), 10)
	writeFile(t, filepath.Join(root, "sub", "deeper", "buried.pptx"), 10)

	got, err := ScanUnder(root, true)
	if err != nil {
		t.Fatalf("ScanUnder: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d scans, want 3: %+v", len(got), got)
	}
}

func TestScanUnderIsCaseInsensitiveOnExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "deck.PPTX"), 10)

	got, err := ScanUnder(root, false)
	if err != nil {
		t.Fatalf("ScanUnder: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d scans, want 1", len(got))
	}
}

func TestScanSpecificSkipsNonPPTXAndMissingPaths(t *testing.T) {
	root := t.TempDir()
	good := filepath.Join(root, "deck.pptx")
	writeFile(t, good, 42)
	txt := filepath.Join(root, "notes.txt")
	writeFile(t, txt, 42)

	got := ScanSpecific([]string{good, txt, "", filepath.Join(root, "missing.pptx")})
	if len(got) != 1 {
		t.Fatalf("got %d scans, want 1: %+v", len(got), got)
	}
	if got[0].SizeBytes != 42 {
		t.Fatalf("SizeBytes = %d, want 42", got[0].SizeBytes)
	}
}

func TestScanSpecificSkipsDirectories(t *testing.T) {
	root := t.TempDir()
	dirAsPPTX := filepath.Join(root, "looks-like-a-deck.pptx")
	if err := os.Mkdir(dirAsPPTX, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	got := ScanSpecific([]string{dirAsPPTX})
	if len(got) != 0 {
		t.Fatalf("got %d scans, want 0 for a directory", len(got))
	}
}

func TestIsUnderRootAcceptsNestedPaths(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "sub", "deck.pptx")
	if !IsUnderRoot(root, nested) {
		t.Fatalf("expected %q to be under root %q", nested, root)
	}
}

func TestIsUnderRootRejectsPathsOutsideRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "library")
	outside := filepath.Join(t.TempDir(), "elsewhere", "deck.pptx")
	if IsUnderRoot(root, outside) {
		t.Fatalf("expected %q to be rejected as outside root %q", outside, root)
	}
}

func TestIsUnderRootRejectsRootItselfEscapedViaDotDot(t *testing.T) {
	root := t.TempDir()
	escaped := filepath.Join(root, "..", "deck.pptx")
	if IsUnderRoot(root, escaped) {
		t.Fatalf("expected %q to be rejected", escaped)
	}
}
