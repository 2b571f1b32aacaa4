//go:build !windows

package pdfconvert

// ResolveSoffice returns "soffice" on non-Windows platforms; PATH lookup
// happens implicitly when exec.Command runs it.
func ResolveSoffice() string {
	return "soffice"
}
