package textextract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/slidemanager/backend-daemon/internal/logger"
)

// OCRFallback wraps the Vision document-text-detection call for pages
// whose native extraction yielded no text (a slide that is entirely a
// screenshot or scanned image). It is opt-in: constructing one requires
// explicit configuration, and its absence never blocks the text pipeline.
type OCRFallback struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

// NewOCRFallback builds a Vision client using credentials from either the
// given file path or the ambient GOOGLE_APPLICATION_CREDENTIALS(_JSON) env
// vars.
func NewOCRFallback(ctx context.Context, credentialsFile string, log *logger.Logger) (*OCRFallback, error) {
	opts := clientOptionsFor(credentialsFile)
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &OCRFallback{log: log.With("component", "OCRFallback"), client: client}, nil
}

func clientOptionsFor(credentialsFile string) []option.ClientOption {
	creds := strings.TrimSpace(credentialsFile)
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	}
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

func (f *OCRFallback) Close() error {
	if f == nil || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// ExtractFromImage runs document text detection over an in-memory image
// (a rendered slide thumbnail) and returns the collapsed full-page text.
func (f *OCRFallback) ExtractFromImage(ctx context.Context, imgBytes []byte) (string, error) {
	if len(imgBytes) == 0 {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req := &visionpb.AnnotateImageRequest{
		Image:    &visionpb.Image{Content: imgBytes},
		Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
	}
	resp, err := f.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{req},
	})
	if err != nil {
		return "", fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return "", nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return "", fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}
	if r0.FullTextAnnotation == nil {
		return "", nil
	}
	return collapseWhitespace(r0.FullTextAnnotation.Text), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, " ", " ")), " ")
}
