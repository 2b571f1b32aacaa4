// Package planner discovers PPTX files under a library root (or from an
// explicit path list) and produces the FileScan records the job manager
// uses to decide what needs (re)indexing.
package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileScan is one discovered file with the metadata needed to detect
// content changes on a later scan.
type FileScan struct {
	Path       string
	SizeBytes  int64
	MtimeEpoch int64
}

// ScanUnder walks root looking for .pptx files. By default it only looks
// at root's immediate children; pass recursive=true to descend into
// subdirectories.
func ScanUnder(root string, recursive bool) ([]FileScan, error) {
	var out []FileScan

	if recursive {
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if info.IsDir() || !isPPTX(path) {
				return nil
			}
			if scan, ok := statScan(path); ok {
				out = append(out, scan)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
		return out, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", root, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if !isPPTX(path) {
			continue
		}
		if scan, ok := statScan(path); ok {
			out = append(out, scan)
		}
	}
	return out, nil
}

// ScanSpecific stats an explicit list of candidate paths, silently
// skipping anything that is not a regular .pptx file or that stat fails
// on — the caller (JobManager's planning phase) is responsible for
// surfacing skip reasons to the client.
func ScanSpecific(paths []string) []FileScan {
	var out []FileScan
	for _, raw := range paths {
		if raw == "" || !isPPTX(raw) {
			continue
		}
		if scan, ok := statScan(raw); ok {
			out = append(out, scan)
		}
	}
	return out
}

func isPPTX(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pptx")
}

func statScan(path string) (FileScan, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return FileScan{}, false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return FileScan{Path: abs, SizeBytes: info.Size(), MtimeEpoch: info.ModTime().Unix()}, true
}

// IsUnderRoot reports whether path is contained within root, used to
// reject frontend-provided scan entries that point outside the library.
func IsUnderRoot(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
