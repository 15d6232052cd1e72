package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pupscan/pupscan-backend/internal/platform/envutil"
	"github.com/pupscan/pupscan-backend/internal/platform/logger"
)

// Client talks to the local breed-classifier sidecar. The sidecar wraps the
// ConvNeXt model: POST /predict returns the softmax top-5 and POST /learn
// feeds a verified (image, label) pair into its embedding reference set.
type Client interface {
	Predict(ctx context.Context, image []byte) (*Prediction, error)
	Teach(ctx context.Context, image []byte, label string) (*TeachResult, error)
}

type BreedScore struct {
	Breed      string  `json:"breed"`
	Confidence float64 `json:"confidence"`
}

// Prediction confidences are percentages (0-100). The sidecar reports raw
// softmax probabilities; the client scales them on the way in.
type Prediction struct {
	Breed        string
	Confidence   float64
	Alternatives []BreedScore
}

type TeachResult struct {
	Status  string `json:"status"` // added | updated | skipped
	Message string `json:"message"`
}

type httpClient struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
}

func New(log *logger.Logger) (Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("CLASSIFIER_BASE_URL")), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing CLASSIFIER_BASE_URL")
	}
	timeout := envutil.DurationSeconds("CLASSIFIER_TIMEOUT_SECONDS", 30)
	return &httpClient{
		log:        log.With("client", "ClassifierClient"),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type predictWire struct {
	Breed      string  `json:"breed"`
	Confidence float64 `json:"confidence"`
	Top5       []struct {
		Breed      string  `json:"breed"`
		Confidence float64 `json:"confidence"`
	} `json:"top_5"`
	Error string `json:"error,omitempty"`
}

func (c *httpClient) Predict(ctx context.Context, image []byte) (*Prediction, error) {
	var wire predictWire
	if err := c.post(ctx, "/predict", map[string]any{
		"image": base64.StdEncoding.EncodeToString(image),
	}, &wire); err != nil {
		return nil, err
	}
	if wire.Error != "" {
		return nil, fmt.Errorf("classifier predict: %s", wire.Error)
	}
	if strings.TrimSpace(wire.Breed) == "" {
		return nil, fmt.Errorf("classifier predict: empty breed")
	}

	out := &Prediction{
		Breed:      wire.Breed,
		Confidence: wire.Confidence * 100,
	}
	for _, t := range wire.Top5 {
		out.Alternatives = append(out.Alternatives, BreedScore{
			Breed:      t.Breed,
			Confidence: t.Confidence * 100,
		})
	}
	return out, nil
}

type teachWire struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func (c *httpClient) Teach(ctx context.Context, image []byte, label string) (*TeachResult, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("classifier teach: empty label")
	}
	var wire teachWire
	if err := c.post(ctx, "/learn", map[string]any{
		"image": base64.StdEncoding.EncodeToString(image),
		"label": label,
	}, &wire); err != nil {
		return nil, err
	}
	if wire.Error != "" {
		return nil, fmt.Errorf("classifier teach: %s", wire.Error)
	}
	status := strings.ToLower(strings.TrimSpace(wire.Status))
	switch status {
	case "added", "updated", "skipped":
	default:
		return nil, fmt.Errorf("classifier teach: unexpected status %q", wire.Status)
	}
	return &TeachResult{Status: status, Message: wire.Message}, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("classifier %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("classifier %s read: %w", path, err)
	}
	c.log.Debug("classifier call", "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("classifier %s: http %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("classifier %s decode: %w", path, err)
	}
	return nil
}
