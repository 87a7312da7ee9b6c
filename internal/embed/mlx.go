package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// MLX defaults. The MLX embedding server speaks the OpenAI-compatible
// /v1/embeddings shape, which keeps this client interchangeable with
// any other server exposing that endpoint.
const (
	DefaultMLXEndpoint = "http://localhost:9659"
	DefaultMLXModel    = "qwen3-embedding-0.6b"
)

// MLXConfig tunes the MLX client.
type MLXConfig struct {
	Endpoint   string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	BatchSize  int
}

func (c MLXConfig) withDefaults() MLXConfig {
	if c.Endpoint == "" {
		c.Endpoint = DefaultMLXEndpoint
	}
	if c.Model == "" {
		c.Model = DefaultMLXModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultRequestTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// MLXEmbedder talks to a local MLX embedding server. Opt-in on Apple
// Silicon; it trades more resident memory for lower latency than the
// Ollama path.
type MLXEmbedder struct {
	cfg    MLXConfig
	client *http.Client

	mu     sync.Mutex
	dims   int
	warmed bool
	closed bool
}

var _ Embedder = (*MLXEmbedder)(nil)

// NewMLXEmbedder creates the embedder and verifies the server is up.
func NewMLXEmbedder(ctx context.Context, cfg MLXConfig) (*MLXEmbedder, error) {
	e := &MLXEmbedder{
		cfg:    cfg.withDefaults(),
		client: &http.Client{},
	}
	if err := e.Healthy(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// OpenAI-compatible /v1/embeddings wire format.
type mlxRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type mlxResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates the embedding for a single text.
func (e *MLXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates one embedding per text, in input order.
func (e *MLXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("mlx: embedder is closed")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *MLXEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(mlxRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("mlx: encode request: %w", err)
	}

	var resp mlxResponse
	err = withRetry(ctx, e.cfg.MaxRetries, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, e.requestTimeout())
		defer cancel()
		return e.post(reqCtx, "/v1/embeddings", body, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("mlx: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	// The server reports each vector's input index; order by it rather
	// than trusting response order.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || vecs[d.Index] != nil {
			return nil, fmt.Errorf("mlx: response index %d out of range", d.Index)
		}
		vecs[d.Index] = normalize(d.Embedding)
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("mlx: no embedding returned for input %d", i)
		}
	}

	e.mu.Lock()
	e.warmed = true
	if e.dims == 0 {
		e.dims = len(vecs[0])
	}
	e.mu.Unlock()

	return vecs, nil
}

func (e *MLXEmbedder) requestTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.warmed {
		return DefaultColdTimeout
	}
	return e.cfg.Timeout
}

func (e *MLXEmbedder) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mlx: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("mlx: %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("mlx: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mlx: %s returned %s: %s", path, resp.Status, truncate(data, 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("mlx: decode response: %w", err)
	}
	return nil
}

// Dimensions returns the embedding dimensionality, or 0 before the
// first call has revealed it.
func (e *MLXEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

// ModelName returns the MLX model identifier.
func (e *MLXEmbedder) ModelName() string { return e.cfg.Model }

// Healthy checks the server's health endpoint.
func (e *MLXEmbedder) Healthy(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.cfg.Endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("mlx: server unreachable at %s: %w", e.cfg.Endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mlx: health check returned %s", resp.Status)
	}
	return nil
}

// Close marks the embedder unusable and drops idle connections.
func (e *MLXEmbedder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.client.CloseIdleConnections()
	return nil
}

func (e *MLXEmbedder) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
