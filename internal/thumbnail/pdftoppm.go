package thumbnail

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"

	_ "image/png"

	"golang.org/x/image/draw"
)

// renderWithPdftoppm rasterizes one page of a PDF at the given DPI via the
// external pdftoppm binary (poppler-utils) and decodes the result.
func renderWithPdftoppm(ctx context.Context, pdftoppmPath, pdfPath string, pageNo1, dpi int) (image.Image, error) {
	if pdftoppmPath == "" {
		pdftoppmPath = "pdftoppm"
	}

	tmpDir, err := os.MkdirTemp("", "thumb_render_")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	args := []string{
		"-f", fmt.Sprint(pageNo1),
		"-l", fmt.Sprint(pageNo1),
		"-r", fmt.Sprint(dpi),
		"-png",
		"-singlefile",
		pdfPath,
		prefix,
	}
	cmd := exec.CommandContext(ctx, pdftoppmPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, stderr.String())
	}

	raw, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("read rendered page: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode rendered page: %w", err)
	}
	return img, nil
}

// resizeExact scales src to exactly width x height using a high-quality
// Catmull-Rom kernel, matching the "scale to the requested box" semantics
// that fitz's per-axis matrix scale had.
func resizeExact(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
