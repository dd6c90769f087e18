package biometric

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FaceLocator finds the first face in an image.
type FaceLocator interface {
	Locate(img image.Image) (image.Rectangle, bool, error)
}

const jpegQuality = 90

type imageRequest struct {
	Image string `json:"image"`
}

type authenticityResponse struct {
	Score        *float64 `json:"score"`
	FaceDetected *bool    `json:"face_detected"`
	Error        string   `json:"error,omitempty"`
}

type emotionResponse struct {
	DominantEmotion string `json:"dominant_emotion"`
	Error           string `json:"error,omitempty"`
}

// RemoteAuthenticity scores frames with an HTTP model service. POST {url} with a base64 JPEG,
// response {"score": 0.93, "face_detected": true}.
type RemoteAuthenticity struct {
	URL        string
	HTTPClient *http.Client
	Locator    FaceLocator
	logger     *zap.Logger
}

// NewRemoteAuthenticity returns a client for url. locator may be nil, in which case the whole
// frame is sent and face detection is left to the service.
func NewRemoteAuthenticity(url string, timeout time.Duration, locator FaceLocator, logger *zap.Logger) *RemoteAuthenticity {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteAuthenticity{
		URL:        url,
		HTTPClient: &http.Client{Timeout: timeout},
		Locator:    locator,
		logger:     logger,
	}
}

// Score implements AuthenticityClassifier.
func (c *RemoteAuthenticity) Score(ctx context.Context, img image.Image) (float64, error) {
	if c.URL == "" {
		return 0, fmt.Errorf("%w: face service URL not configured", ErrClassifierUnavailable)
	}
	if img == nil {
		return 0, ErrNoFace
	}
	if c.Locator != nil {
		box, ok, err := c.Locator.Locate(img)
		if err != nil {
			return 0, fmt.Errorf("%w: locate face: %v", ErrClassifierUnavailable, err)
		}
		if !ok {
			return 0, ErrNoFace
		}
		img = Crop(img, box)
	}

	var out authenticityResponse
	if err := postImage(ctx, c.HTTPClient, c.URL, img, &out); err != nil {
		c.logger.Warn("face service call failed", zap.String("url", c.URL), zap.Error(err))
		return 0, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	if out.FaceDetected != nil && !*out.FaceDetected {
		return 0, ErrNoFace
	}
	if out.Error != "" || out.Score == nil {
		return 0, fmt.Errorf("%w: service error %q", ErrClassifierUnavailable, out.Error)
	}
	c.logger.Debug("face scored", zap.Float64("score", *out.Score))
	return *out.Score, nil
}

// RemoteEmotion asks an HTTP model service for the dominant emotion. POST {url} with a base64
// JPEG, response {"dominant_emotion": "happy"}.
type RemoteEmotion struct {
	URL        string
	HTTPClient *http.Client
	logger     *zap.Logger
}

// NewRemoteEmotion returns a client for url.
func NewRemoteEmotion(url string, timeout time.Duration, logger *zap.Logger) *RemoteEmotion {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteEmotion{URL: url, HTTPClient: &http.Client{Timeout: timeout}, logger: logger}
}

// Classify implements EmotionClassifier.
func (c *RemoteEmotion) Classify(ctx context.Context, img image.Image) EmotionResult {
	if c.URL == "" || img == nil {
		return NotDetected()
	}
	var out emotionResponse
	if err := postImage(ctx, c.HTTPClient, c.URL, img, &out); err != nil {
		c.logger.Warn("emotion analysis failed", zap.Error(err))
		return NotDetected()
	}
	label := strings.TrimSpace(out.DominantEmotion)
	if out.Error != "" || label == "" {
		c.logger.Warn("emotion analysis returned no emotion", zap.String("error", out.Error))
		return NotDetected()
	}
	return Detected(label)
}

// Crop returns the part of img inside box.
func Crop(img image.Image, box image.Rectangle) image.Image {
	box = box.Intersect(img.Bounds())
	if box.Empty() {
		return img
	}
	if s, ok := img.(interface {
		SubImage(r image.Rectangle) image.Image
	}); ok {
		return s.SubImage(box)
	}
	dst := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Draw(dst, dst.Bounds(), img, box.Min, draw.Src)
	return dst
}

// EncodeJPEG returns img as base64 JPEG.
func EncodeJPEG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func postImage(ctx context.Context, client *http.Client, url string, img image.Image, out any) error {
	encoded, err := EncodeJPEG(img)
	if err != nil {
		return err
	}
	body, err := json.Marshal(imageRequest{Image: encoded})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("service returned %s", resp.Status)
	}
	return json.Unmarshal(raw, out)
}
