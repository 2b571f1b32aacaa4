package thumbnail

import (
	"image"
	"os"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
)

var (
	placeholderFontOnce sync.Once
	placeholderFont     *truetype.Font
)

// SetPlaceholderFontFile lets the daemon point at a real TTF for nicer
// placeholder labels. Without it, placeholders fall back to gg's built-in
// bitmap face.
func SetPlaceholderFontFile(path string) {
	placeholderFontOnce.Do(func() {
		raw, err := os.ReadFile(path)
		if err != nil {
			return
		}
		f, err := freetype.ParseFont(raw)
		if err != nil {
			return
		}
		placeholderFont = f
	})
}

// Placeholder draws a plain, exact-size stand-in thumbnail: a light gray
// field, a border, and a centered label. Used when the real page render
// fails, so a broken conversion never surfaces as a missing file.
func Placeholder(width, height int, label string) image.Image {
	dc := gg.NewContext(width, height)
	dc.SetRGB(0.93, 0.93, 0.94)
	dc.Clear()

	dc.SetRGB(0.75, 0.75, 0.77)
	dc.SetLineWidth(2)
	dc.DrawRectangle(1, 1, float64(width)-2, float64(height)-2)
	dc.Stroke()

	if placeholderFont != nil {
		face := truetype.NewFace(placeholderFont, &truetype.Options{Size: 14})
		dc.SetFontFace(face)
	}
	dc.SetRGB(0.45, 0.45, 0.47)
	dc.DrawStringAnchored(label, float64(width)/2, float64(height)/2, 0.5, 0.5)

	return dc.Image()
}
