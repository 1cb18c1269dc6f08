// Package inference provides an HTTP client for image-classification models
// served behind a HuggingFace Inference API compatible endpoint.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Strob0t/MedOrch/internal/resilience"
)

// Label is one classification result.
type Label struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// ErrNoImage is returned when Classify is called without image bytes.
var ErrNoImage = errors.New("inference: empty image payload")

// Client posts raw image bytes to /models/{model} and decodes the label list.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates an inference client with a 30s timeout.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SetTimeout bounds every request made by the client.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.httpClient.Timeout = d
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Configured reports whether the client has an endpoint to talk to.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Classify returns up to topK labels for the image, highest score first.
// A topK of zero or less returns every label.
func (c *Client) Classify(ctx context.Context, model string, image []byte, topK int) ([]Label, error) {
	if len(image) == 0 {
		return nil, ErrNoImage
	}

	var labels []Label
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/models/"+escapeModel(model), bytes.NewReader(image))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("inference API error %d: %s", resp.StatusCode, string(data))
		}
		if err := json.Unmarshal(data, &labels); err != nil {
			return fmt.Errorf("unmarshal labels: %w", err)
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", model, err)
	}

	sort.SliceStable(labels, func(i, j int) bool { return labels[i].Score > labels[j].Score })
	if topK > 0 && len(labels) > topK {
		labels = labels[:topK]
	}
	return labels, nil
}

// escapeModel escapes each path segment of an "org/name" model id.
func escapeModel(model string) string {
	parts := strings.Split(model, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
