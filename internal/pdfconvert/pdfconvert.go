// Package pdfconvert supervises headless LibreOffice conversion of a PPTX
// file to PDF, with a disposable per-invocation user profile and a hard
// timeout that kills the whole process tree if LibreOffice hangs (which it
// does, occasionally, on malformed input).
package pdfconvert

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/slidemanager/backend-daemon/internal/apperr"
)

// Convert runs soffice against pptxPath and produces outPDF, using a fresh
// disposable profile directory so concurrent conversions never share
// LibreOffice's lock file. It returns a *apperr.Error with code
// PDFConvertTimeout or PDFConvertFail on failure.
func Convert(ctx context.Context, sofficePath, pptxPath, outPDF string, timeout time.Duration) error {
	if sofficePath == "" {
		sofficePath = "soffice"
	}
	outDir := filepath.Dir(outPDF)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return apperr.Wrap(apperr.PDFConvertFail, "create output dir", err)
	}

	profileDir, err := os.MkdirTemp("", "lo_profile_")
	if err != nil {
		return apperr.Wrap(apperr.PDFConvertFail, "create profile dir", err)
	}
	defer os.RemoveAll(profileDir)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"--headless",
		"--nologo",
		"--norestore",
		"--nofirststartwizard",
		"-env:UserInstallation=" + fileURL(profileDir),
		"--convert-to", "pdf",
		"--outdir", outDir,
		pptxPath,
	}
	cmd := exec.CommandContext(runCtx, sofficePath, args...)
	setProcessGroup(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err = cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		killProcessTree(cmd)
		return apperr.New(apperr.PDFConvertTimeout, fmt.Sprintf("LibreOffice timeout after %s: %s", timeout, pptxPath))
	}
	if err != nil {
		msg := stderr.String()
		if len(msg) > 500 {
			msg = msg[:500]
		}
		return apperr.Wrap(apperr.PDFConvertFail, fmt.Sprintf("LibreOffice failed: %s", msg), err)
	}

	expected := filepath.Join(outDir, trimExt(filepath.Base(pptxPath))+".pdf")
	if _, err := os.Stat(expected); err != nil {
		return apperr.New(apperr.PDFConvertFail, fmt.Sprintf("PDF not produced: expected %s", expected))
	}
	if expected != outPDF {
		_ = os.Remove(outPDF)
		if err := os.Rename(expected, outPDF); err != nil {
			return apperr.Wrap(apperr.PDFConvertFail, "rename converted pdf", err)
		}
	}
	return nil
}

func trimExt(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}

func fileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	slashed := filepath.ToSlash(abs)
	if runtime.GOOS == "windows" {
		return "file:///" + slashed
	}
	if len(slashed) > 0 && slashed[0] == '/' {
		return "file://" + slashed
	}
	return "file:///" + slashed
}
