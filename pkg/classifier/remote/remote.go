// Package remote provides a classifier backed by an HTTP inference service.
//
// The service must expose:
//
//	POST {base}/classify  {"features": [...], "feature_names": ["MFCC"], "model": "..."}
//	                      -> {"label": "...", "confidence": 0.87}
//	GET  {base}/healthz   -> any 2xx
//
// Because the result depends on a network peer, the classifier declares
// itself non-deterministic. Every request carries the caller's context, so
// the streaming core's per-window deadline bounds it.
//
// Usage:
//
//	c, err := remote.New("http://inference:9000",
//	    remote.WithAPIKey(os.Getenv("INFERENCE_KEY")),
//	    remote.WithModel("asd-v3"),
//	)
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/auralyze/pkg/classifier"
	"github.com/MrWong99/auralyze/pkg/features"
)

const (
	defaultTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

var _ classifier.Classifier = (*Classifier)(nil)
var _ classifier.Pinger = (*Classifier)(nil)

// Option is a functional option for configuring a Classifier.
type Option func(*Classifier)

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Classifier) {
		c.apiKey = key
	}
}

// WithModel forwards a model identifier to the service. When empty the
// service uses its default model.
func WithModel(model string) Option {
	return func(c *Classifier) {
		c.model = model
	}
}

// WithTimeout sets the HTTP client timeout. The caller's context deadline
// still applies when it is shorter. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Classifier) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithFeatureNames sets the feature names sent alongside each vector.
// Defaults to ["MFCC"].
func WithFeatureNames(names ...string) Option {
	return func(c *Classifier) {
		c.featureNames = names
	}
}

// Classifier calls a remote inference endpoint. Safe for concurrent use.
type Classifier struct {
	baseURL      string
	apiKey       string
	model        string
	featureNames []string
	httpClient   *http.Client
}

// New returns a Classifier for the service at baseURL, which must be
// non-empty.
func New(baseURL string, opts ...Option) (*Classifier, error) {
	if baseURL == "" {
		return nil, errors.New("remote: baseURL must not be empty")
	}
	c := &Classifier{
		baseURL:      strings.TrimRight(baseURL, "/"),
		featureNames: []string{features.NameMFCC},
		httpClient:   &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type classifyRequest struct {
	Features     []float64 `json:"features"`
	FeatureNames []string  `json:"feature_names"`
	Model        string    `json:"model,omitempty"`
}

type classifyResponse struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
}

// Classify posts v to the service and decodes its prediction.
func (c *Classifier) Classify(ctx context.Context, v features.Vector) (classifier.Prediction, error) {
	body, err := json.Marshal(classifyRequest{
		Features:     v,
		FeatureNames: c.featureNames,
		Model:        c.model,
	})
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("remote: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("remote: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifier.Prediction{}, fmt.Errorf("remote: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return classifier.Prediction{}, fmt.Errorf("remote: server returned HTTP %d: %s", resp.StatusCode, truncate(data, 200))
	}

	var out classifyResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return classifier.Prediction{}, fmt.Errorf("remote: parse JSON response: %w", err)
	}
	if out.Confidence == nil {
		return classifier.Prediction{}, fmt.Errorf("%w: response missing confidence", classifier.ErrInvalidPrediction)
	}
	p := classifier.Prediction{Label: out.Label, Confidence: *out.Confidence}
	if err := classifier.Validate(p); err != nil {
		return classifier.Prediction{}, fmt.Errorf("remote: %w", err)
	}
	return p, nil
}

// Ping checks the service health endpoint.
func (c *Classifier) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("remote: create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("remote: ping: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Info implements classifier.Classifier.
func (c *Classifier) Info() classifier.Info {
	return classifier.Info{Name: "remote", Deterministic: false}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
