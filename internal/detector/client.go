// Package detector talks to the landmark detection service.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-scan/internal/landmark"
	"github.com/kozaktomas/face-scan/internal/metrics"
)

const (
	defaultURL     = "http://localhost:8000"
	defaultTimeout = 30 * time.Second
	landmarksPath  = "/landmarks"
)

// ErrNoFace is returned when the image contains no detectable face.
var ErrNoFace = errors.New("no face found")

// Client computes face landmarks using the detector server
type Client struct {
	baseURL      string
	client       *http.Client
	logger       *zap.Logger
	maxDimension int
}

// NewClient creates a new detector client. Empty values fall back to defaults.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// WithMaxDimension makes the client downscale images whose longer side exceeds
// n pixels before upload. Zero disables downscaling.
func (c *Client) WithMaxDimension(n int) *Client {
	c.maxDimension = n
	return c
}

type faceResponse struct {
	Box       landmark.BoundingBox `json:"box"`
	Keypoints []landmark.Point     `json:"keypoints"`
}

type landmarksResponse struct {
	Faces []faceResponse `json:"faces"`
}

// Detect returns the primary face of the image.
func (c *Client) Detect(ctx context.Context, image []byte) (*landmark.Landmark, error) {
	faces, err := c.DetectAll(ctx, image)
	if err != nil {
		return nil, err
	}
	return faces[0], nil
}

// DetectAll returns every face found, primary face first. It never returns an
// empty slice without an error.
func (c *Client) DetectAll(ctx context.Context, image []byte) ([]*landmark.Landmark, error) {
	if len(image) == 0 {
		return nil, errors.New("empty image")
	}

	if c.maxDimension > 0 {
		resized, ok, err := Downscale(image, c.maxDimension)
		switch {
		case err != nil:
			c.logger.Debug("image not downscaled", zap.Error(err))
		case ok:
			image = resized
		}
	}

	shape, err := ImageShape(image)
	if err != nil {
		// the service may still understand formats we cannot decode locally
		c.logger.Debug("unknown image shape", zap.Error(err))
	}

	start := time.Now()
	body, err := c.postMultipartImage(ctx, landmarksPath, image)
	metrics.DetectorDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	var resp landmarksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(resp.Faces) == 0 {
		return nil, ErrNoFace
	}

	out := make([]*landmark.Landmark, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		out = append(out, landmark.New(f.Box, shape, f.Keypoints))
	}
	return out, nil
}

// postMultipartImage posts the image as the "file" form field and returns the body of a 200 response.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image"`)
	h.Set("Content-Type", http.DetectContentType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detector error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
