package aspect

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/slidemanager/backend-daemon/internal/domain"
)

func writeTestPPTX(t *testing.T, presentationXML string, slideCount int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deck.pptx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	if presentationXML != "" {
		w, err := zw.Create("ppt/presentation.xml")
		if err != nil {
			t.Fatalf("zip create presentation.xml: %v", err)
		}
		if _, err := w.Write([]byte(presentationXML)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	for i := 1; i <= slideCount; i++ {
		w, err := zw.Create("ppt/slides/slide" + itoa(i) + ".xml")
		if err != nil {
			t.Fatalf("zip create slide: %v", err)
		}
		_, _ = w.Write([]byte("<sld/>"))
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func TestDetect4x3(t *testing.T) {
	path := writeTestPPTX(t, `<presentation xmlns="http://schemas.openxmlformats.org/presentationml/2006/main"><sldSz cx="9144000" cy="6858000"/></presentation>`, 0)
	if got := Detect(path); got != domain.Aspect4x3 {
		t.Fatalf("Detect = %q, want %q", got, domain.Aspect4x3)
	}
}

func TestDetect16x9(t *testing.T) {
	path := writeTestPPTX(t, `<presentation xmlns="http://schemas.openxmlformats.org/presentationml/2006/main"><sldSz cx="12192000" cy="6858000"/></presentation>`, 0)
	if got := Detect(path); got != domain.Aspect16x9 {
		t.Fatalf("Detect = %q, want %q", got, domain.Aspect16x9)
	}
}

func TestDetectUnusualRatioIsUnknown(t *testing.T) {
	path := writeTestPPTX(t, `<presentation xmlns="http://schemas.openxmlformats.org/presentationml/2006/main"><sldSz cx="5000000" cy="9000000"/></presentation>`, 0)
	if got := Detect(path); got != domain.AspectUnkown {
		t.Fatalf("Detect = %q, want %q", got, domain.AspectUnkown)
	}
}

func TestDetectMissingPresentationXMLIsUnknown(t *testing.T) {
	path := writeTestPPTX(t, "", 0)
	if got := Detect(path); got != domain.AspectUnkown {
		t.Fatalf("Detect = %q, want %q", got, domain.AspectUnkown)
	}
}

func TestDetectNotAZipFileIsUnknown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-zip.pptx")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := Detect(path); got != domain.AspectUnkown {
		t.Fatalf("Detect = %q, want %q", got, domain.AspectUnkown)
	}
}

func TestSlideCountCountsOnlySlideXMLEntries(t *testing.T) {
	path := writeTestPPTX(t, `<presentation xmlns="http://schemas.openxmlformats.org/presentationml/2006/main"><sldSz cx="9144000" cy="6858000"/></presentation>`, 5)
	got, err := SlideCount(path)
	if err != nil {
		t.Fatalf("SlideCount: %v", err)
	}
	if got != 5 {
		t.Fatalf("SlideCount = %d, want 5", got)
	}
}

func TestSlideCountMissingFileReturnsError(t *testing.T) {
	if _, err := SlideCount(filepath.Join(t.TempDir(), "missing.pptx")); err == nil {
		t.Fatalf("expected an error for a nonexistent pptx")
	}
}
