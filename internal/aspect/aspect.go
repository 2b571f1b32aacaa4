// Package aspect detects a presentation's slide aspect ratio and slide
// count directly from its PPTX zip container, without invoking
// LibreOffice.
package aspect

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/slidemanager/backend-daemon/internal/domain"
)

const presentationMLNamespace = "http://schemas.openxmlformats.org/presentationml/2006/main"

type presentationXML struct {
	XMLName xml.Name `xml:"presentation"`
	SldSz   *sldSz   `xml:"sldSz"`
}

type sldSz struct {
	Cx string `xml:"cx,attr"`
	Cy string `xml:"cy,attr"`
}

// Detect opens the pptx at path and classifies its slide size into
// "4:3", "16:9", or "unknown". Any read/parse failure also yields
// "unknown" rather than an error — aspect detection is best-effort
// metadata, not load-bearing for the rest of the pipeline.
func Detect(path string) domain.Aspect {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return domain.AspectUnkown
	}
	defer zr.Close()

	f, err := zr.Open("ppt/presentation.xml")
	if err != nil {
		return domain.AspectUnkown
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return domain.AspectUnkown
	}

	var pres presentationXML
	if err := xml.Unmarshal(raw, &pres); err != nil || pres.SldSz == nil {
		return domain.AspectUnkown
	}

	cx, err1 := strconv.ParseFloat(pres.SldSz.Cx, 64)
	cy, err2 := strconv.ParseFloat(pres.SldSz.Cy, 64)
	if err1 != nil || err2 != nil || cx <= 0 || cy <= 0 {
		return domain.AspectUnkown
	}

	ratio := cx / cy
	if math.Abs(ratio-4.0/3.0) < 0.08 {
		return domain.Aspect4x3
	}
	if math.Abs(ratio-16.0/9.0) < 0.12 {
		return domain.Aspect16x9
	}
	return domain.AspectUnkown
}

// SlideCount counts the ppt/slides/slideN.xml entries in the pptx zip
// container, which is far cheaper than opening a rendering library just to
// ask how many pages a deck has.
func SlideCount(path string) (int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("open pptx: %w", err)
	}
	defer zr.Close()

	count := 0
	for _, f := range zr.File {
		name := f.Name
		if strings.HasPrefix(name, "ppt/slides/slide") && strings.HasSuffix(name, ".xml") {
			count++
		}
	}
	return count, nil
}
