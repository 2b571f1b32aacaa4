//go:build windows

package pdfconvert

import (
	"os"
	"os/exec"
)

// ResolveSoffice looks for soffice.exe on PATH, then falls back to the two
// conventional LibreOffice install locations.
func ResolveSoffice() string {
	if p, err := exec.LookPath("soffice.exe"); err == nil {
		return p
	}
	for _, candidate := range []string{
		`C:\Program Files\LibreOffice\program\soffice.exe`,
		`C:\Program Files (x86)\LibreOffice\program\soffice.exe`,
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
