package textextract

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

const sampleSlideXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
       xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
  <p:cSld>
    <p:spTree>
      <p:sp>
        <p:txBody>
          <a:p><a:r><a:t>Title  Line</a:t></a:r></a:p>
          <a:p><a:r><a:t>Second run</a:t></a:r></a:p>
        </p:txBody>
      </p:sp>
      <p:grpSp>
        <p:sp>
          <p:txBody>
            <a:p><a:r><a:t>Nested inside a group</a:t></a:r></a:p>
          </p:txBody>
        </p:sp>
      </p:grpSp>
    </p:spTree>
  </p:cSld>
</p:sld>`

func TestExtractFromSlideXMLWalksNestedShapes(t *testing.T) {
	got, err := ExtractFromSlideXML([]byte(sampleSlideXML))
	if err != nil {
		t.Fatalf("ExtractFromSlideXML: %v", err)
	}
	want := "Title  Line\nSecond run\nNested inside a group"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractFromSlideXMLInvalidXML(t *testing.T) {
	if _, err := ExtractFromSlideXML([]byte("not xml")); err == nil {
		t.Fatalf("expected an error decoding invalid XML")
	}
}

func TestNormalizeTextCollapsesWhitespaceAndDropsEmptyLines(t *testing.T) {
	in := "Title  Line\r\n\r\n  \t Second   run  \r\n\n"
	got := NormalizeText(in)
	want := "Title Line\nSecond run"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeTextEmptyInputYieldsEmptyOutput(t *testing.T) {
	if got := NormalizeText("   \n\n  \r\n"); got != "" {
		t.Fatalf("expected empty normalized text, got %q", got)
	}
}

func TestFastTextSigEmptyInputYieldsEmptySignature(t *testing.T) {
	if got := FastTextSig(""); got != "" {
		t.Fatalf("expected empty signature for empty text, got %q", got)
	}
}

func TestFastTextSigIsStableAndDistinguishesContent(t *testing.T) {
	a1 := FastTextSig("hello world")
	a2 := FastTextSig("hello world")
	b := FastTextSig("goodbye world")
	if a1 != a2 {
		t.Fatalf("same input should produce the same signature: %q != %q", a1, a2)
	}
	if a1 == b {
		t.Fatalf("different input produced the same signature: %q", a1)
	}
	if len(a1) != 16 {
		t.Fatalf("expected a 16-hex-char (8-byte) digest, got %d chars: %q", len(a1), a1)
	}
}

func writeTestPPTX(t *testing.T, slides map[int]string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "deck.pptx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create pptx: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for pageNo, xmlBody := range slides {
		w, err := zw.Create(filepath.ToSlash(filepath.Join("ppt", "slides", "slide"+itoa(pageNo)+".xml")))
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(xmlBody)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
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
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestExtractPageTextReadsSlideByNumber(t *testing.T) {
	path := writeTestPPTX(t, map[int]string{
		1: sampleSlideXML,
		2: `<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"><p:cSld><p:spTree></p:spTree></p:cSld></p:sld>`,
	})

	raw, norm, sig, err := ExtractPageText(path, 1)
	if err != nil {
		t.Fatalf("ExtractPageText: %v", err)
	}
	if raw == "" || norm == "" || sig == "" {
		t.Fatalf("expected non-empty raw/norm/sig for slide 1, got %q / %q / %q", raw, norm, sig)
	}

	_, norm2, sig2, err := ExtractPageText(path, 2)
	if err != nil {
		t.Fatalf("ExtractPageText slide 2: %v", err)
	}
	if norm2 != "" || sig2 != "" {
		t.Fatalf("empty slide should yield empty norm/sig, got %q / %q", norm2, sig2)
	}
}

func TestExtractPageTextMissingSlideReturnsError(t *testing.T) {
	path := writeTestPPTX(t, map[int]string{1: sampleSlideXML})
	if _, _, _, err := ExtractPageText(path, 99); err == nil {
		t.Fatalf("expected an error for a slide number that doesn't exist")
	}
}

func TestExtractPageTextMissingFileReturnsError(t *testing.T) {
	if _, _, _, err := ExtractPageText(filepath.Join(t.TempDir(), "missing.pptx"), 1); err == nil {
		t.Fatalf("expected an error opening a nonexistent pptx")
	}
}
