// Package embed talks to an OpenAI-compatible embeddings endpoint,
// wrapping it with the daemon's rate limiter, retry/backoff, and in-flight
// request de-duplication.
package embed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/slidemanager/backend-daemon/internal/apperr"
	"github.com/slidemanager/backend-daemon/internal/logger"
	"github.com/slidemanager/backend-daemon/internal/ratelimit"
)

// EstimateTokens is a cheap, model-agnostic token-count estimate used only
// to size rate-limiter requests, not for billing accuracy.
func EstimateTokens(text string) int {
	n := int(float64(len(text)) / 4.0 * 1.2)
	if n < 1 {
		return 1
	}
	return n
}

// PackF32 encodes a float32 vector as a little-endian byte blob, the wire
// format used for every stored vector column.
func PackF32(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// UnpackF32 is the inverse of PackF32.
func UnpackF32(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}

// ZeroVector returns a packed all-zero vector of the given dimension, used
// for pages with no extractable text so a text_vec artifact can still
// complete without ever calling the remote API.
func ZeroVector(dim int) []byte {
	return PackF32(make([]float32, dim))
}

// Client embeds batches of text and single images against a remote model.
type Client interface {
	EmbedTextBatch(ctx context.Context, texts []string, model string) ([][]float32, error)
	EmbedImage(ctx context.Context, imgBytes []byte, model string) ([]float32, error)
}

type httpClient struct {
	log        *logger.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *ratelimit.DualTokenBucket
	maxRetries int
	sf         singleflight.Group
}

// NewHTTPClient builds a Client backed by an OpenAI-compatible
// /v1/embeddings endpoint, rate-limited by the given dual token bucket.
func NewHTTPClient(baseURL, apiKey string, limiter *ratelimit.DualTokenBucket, maxRetries int, log *logger.Logger) Client {
	return &httpClient{
		log:        log.With("component", "EmbeddingClient"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    limiter,
		maxRetries: maxRetries,
	}
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedTextBatch acquires rate-limiter budget for the whole batch, then
// retries the remote call with jittered exponential backoff until success
// or maxRetries is exhausted.
func (c *httpClient) EmbedTextBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	tokCost := 0
	for _, t := range texts {
		tokCost += EstimateTokens(t)
	}
	if err := c.limiter.Acquire(ctx, 1.0, float64(tokCost)); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		vecs, err := c.doEmbed(ctx, texts, model)
		if err == nil {
			return vecs, nil
		}
		code := codeFor(err)
		if code == apperr.OpenAIAuth {
			return nil, apperr.Wrap(code, "embedding request unauthorized", err)
		}
		if !ratelimit.IsRetryableError(err) || attempt >= c.maxRetries {
			return nil, apperr.Wrap(code, "embedding request exhausted retries", err)
		}
		c.log.Warn("embedding request failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ratelimit.BackoffDelay(attempt, 500*time.Millisecond, 20*time.Second)):
		}
	}
}

func codeFor(err error) apperr.Code {
	if sc, ok := err.(ratelimit.HTTPStatusCoder); ok {
		switch sc.HTTPStatusCode() {
		case http.StatusTooManyRequests:
			return apperr.OpenAIRateLimit
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.OpenAIAuth
		}
	}
	return apperr.Unknown
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string       { return fmt.Sprintf("status %d: %s", e.status, e.body) }
func (e *statusError) HTTPStatusCode() int { return e.status }

func (c *httpClient) doEmbed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Model: model, Input: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &statusError{status: resp.StatusCode, body: string(raw)}
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.JSONCorrupted, "decode embeddings response", err)
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// EmbedImage embeds a single image, de-duplicating concurrent identical
// requests (same page requested by two overlapping job runs) via
// singleflight so only one remote call is made.
func (c *httpClient) EmbedImage(ctx context.Context, imgBytes []byte, model string) ([]float32, error) {
	sum := sha256.Sum256(imgBytes)
	key := fmt.Sprintf("%s:%x", model, sum)
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if err := c.limiter.Acquire(ctx, 1.0, 1.0); err != nil {
			return nil, err
		}
		return c.doEmbedImage(ctx, imgBytes, model)
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

func (c *httpClient) doEmbedImage(ctx context.Context, imgBytes []byte, model string) ([]float32, error) {
	// The image-embedding endpoint takes base64 image content under the
	// same input field OpenAI-compatible embeddings servers use for
	// multimodal models.
	body, err := json.Marshal(map[string]interface{}{
		"model": model,
		"input": []map[string]string{{"image": base64.StdEncoding.EncodeToString(imgBytes)}},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &statusError{status: resp.StatusCode, body: string(raw)}
	}
	var parsed embeddingsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.JSONCorrupted, "decode embeddings response", err)
	}
	if len(parsed.Data) == 0 {
		return nil, apperr.New(apperr.Unknown, "empty image embedding response")
	}
	return parsed.Data[0].Embedding, nil
}
