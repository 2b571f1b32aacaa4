// Package thumbnail renders a single PDF page to a fixed-size JPEG
// thumbnail. Rendering goes through the external pdftoppm tool; if that
// tool is missing or the page fails to render, a drawn placeholder of the
// exact same dimensions is written instead so downstream consumers never
// have to special-case a missing thumbnail file.
package thumbnail

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"github.com/slidemanager/backend-daemon/internal/domain"
)

// Size picks the exact output dimensions for a page's thumbnail. An
// unknown aspect uses the 16:9 height, matching how a slide of
// unrecognized proportions was always treated upstream.
func Size(aspect domain.Aspect, width, height43, height169 int) (int, int) {
	if aspect == domain.Aspect4x3 {
		return width, height43
	}
	return width, height169
}

// Render produces a JPEG thumbnail at outPath for one page of a converted
// PDF. It shells out to pdftoppm and falls back to a drawn placeholder on
// any failure — the caller still gets a usable file at the requested size.
func Render(ctx context.Context, pdftoppmPath, pdfPath string, pageNo1 int, outPath string, width, height, dpi int) error {
	img, err := renderWithPdftoppm(ctx, pdftoppmPath, pdfPath, pageNo1, dpi)
	if err != nil {
		img = Placeholder(width, height, fmt.Sprintf("page %d", pageNo1))
	} else {
		img = resizeExact(img, width, height)
	}
	return saveJPEG(outPath, img)
}

func saveJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create thumbnail file: %w", err)
	}
	defer f.Close()
	return jpeg.Encode(f, img, &jpeg.Options{Quality: 85})
}
