// Package textextract pulls raw text out of a PPTX slide's XML, normalizes
// it, and computes its content signature. An optional Vision OCR fallback
// covers pages whose native text layer is empty (e.g. slides that are
// entirely an embedded image).
package textextract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const drawingMLNamespace = "http://schemas.openxmlformats.org/drawingml/2006/main"

var whitespaceRe = regexp.MustCompile(`\s+`)

const zeroWidthSpace = "​"

// xmlNode1 mirrors just enough of the DrawingML shape tree to pull every
// <a:t> run out of a slide, regardless of how deeply it is nested inside
// shapes, tables, or grouped shapes.
type xmlNode1 struct {
	XMLName xml.Name
	Content string     `xml:",chardata"`
	Nodes   []xmlNode1 `xml:",any"`
}

// ExtractFromSlideXML walks the slide XML tree collecting every <a:t> text
// run, joined with newlines in document order — the Go equivalent of
// ElementTree's `.//a:t` findall.
func ExtractFromSlideXML(xmlBytes []byte) (string, error) {
	var root xmlNode1
	dec := xml.NewDecoder(strings.NewReader(string(xmlBytes)))
	if err := dec.Decode(&root); err != nil {
		return "", fmt.Errorf("decode slide xml: %w", err)
	}
	var lines []string
	collectRuns(root, &lines)
	return strings.Join(lines, "\n"), nil
}

func collectRuns(n xmlNode1, out *[]string) {
	if n.XMLName.Local == "t" && n.XMLName.Space == drawingMLNamespace && n.Content != "" {
		*out = append(*out, n.Content)
	}
	for _, child := range n.Nodes {
		collectRuns(child, out)
	}
}

// NormalizeText strips zero-width spaces, normalizes line endings, collapses
// intra-line whitespace runs to a single space, trims each line, and drops
// lines left empty by that trimming.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, zeroWidthSpace, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	rawLines := strings.Split(s, "\n")
	lines := make([]string, 0, len(rawLines))
	for _, line := range rawLines {
		line = strings.TrimSpace(whitespaceRe.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// FastTextSig returns a stable, short content signature for normalized
// text. Empty input yields an empty signature — callers treat that as
// "nothing to embed or index" rather than hashing the empty string.
func FastTextSig(normText string) string {
	if normText == "" {
		return ""
	}
	h, _ := blake2b.New(8, nil)
	_, _ = h.Write([]byte(normText))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ExtractPageText opens the pptx at path, reads its Nth slide, and returns
// the raw text, normalized text, and content signature.
func ExtractPageText(pptxPath string, pageNo int) (raw, norm, sig string, err error) {
	zr, err := zip.OpenReader(pptxPath)
	if err != nil {
		return "", "", "", fmt.Errorf("open pptx: %w", err)
	}
	defer zr.Close()

	slideName := fmt.Sprintf("ppt/slides/slide%d.xml", pageNo)
	f, err := zr.Open(slideName)
	if err != nil {
		return "", "", "", fmt.Errorf("open %s: %w", slideName, err)
	}
	defer f.Close()

	xmlBytes, err := io.ReadAll(f)
	if err != nil {
		return "", "", "", fmt.Errorf("read %s: %w", slideName, err)
	}

	raw, err = ExtractFromSlideXML(xmlBytes)
	if err != nil {
		return "", "", "", err
	}
	norm = NormalizeText(raw)
	if norm != "" {
		sig = FastTextSig(norm)
	}
	return raw, norm, sig, nil
}
