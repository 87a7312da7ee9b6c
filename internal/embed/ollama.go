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

// Ollama defaults. The model ships with most Ollama installs and has a
// good quality/latency balance for note-sized text.
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

// OllamaConfig tunes the Ollama client.
type OllamaConfig struct {
	Host       string
	Model      string
	Timeout    time.Duration // per warm request
	MaxRetries int
	BatchSize  int
}

func (c OllamaConfig) withDefaults() OllamaConfig {
	if c.Host == "" {
		c.Host = DefaultOllamaHost
	}
	if c.Model == "" {
		c.Model = DefaultOllamaModel
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

// OllamaEmbedder talks to a local Ollama server's /api/embed endpoint,
// which accepts a batch of inputs per request.
type OllamaEmbedder struct {
	cfg    OllamaConfig
	client *http.Client

	mu     sync.Mutex
	dims   int  // learned from the first response
	warmed bool // first request pays the cold timeout
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates the embedder and verifies the server is
// reachable. It does not force a model load; that happens on first use.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	e := &OllamaEmbedder{
		cfg: cfg.withDefaults(),
		// No client-level timeout: deadlines come from per-request
		// contexts, which distinguish cold loads from warm calls.
		client: &http.Client{},
	}
	if err := e.Healthy(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// embedRequest/embedResponse mirror Ollama's /api/embed wire format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates one embedding per text, in input order, slicing
// the input into server-sized sub-batches.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.isClosed() {
		return nil, fmt.Errorf("ollama: embedder is closed")
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

func (e *OllamaEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama: encode request: %w", err)
	}

	var resp embedResponse
	err = withRetry(ctx, e.cfg.MaxRetries, func() error {
		reqCtx, cancel := context.WithTimeout(ctx, e.requestTimeout())
		defer cancel()
		return e.post(reqCtx, "/api/embed", body, &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("ollama: %s", resp.Error)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	e.mu.Lock()
	e.warmed = true
	if e.dims == 0 && len(resp.Embeddings) > 0 {
		e.dims = len(resp.Embeddings[0])
	}
	e.mu.Unlock()

	for i := range resp.Embeddings {
		normalize(resp.Embeddings[i])
	}
	return resp.Embeddings, nil
}

// requestTimeout widens the deadline until the first successful call,
// which may pay for the server loading the model from disk.
func (e *OllamaEmbedder) requestTimeout() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.warmed {
		return DefaultColdTimeout
	}
	return e.cfg.Timeout
}

func (e *OllamaEmbedder) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Host+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ollama: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: %s returned %s: %s", path, resp.Status, truncate(data, 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("ollama: decode response: %w", err)
	}
	return nil
}

// Dimensions returns the embedding dimensionality, or 0 before the
// first call has revealed it.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

// ModelName returns the Ollama model identifier.
func (e *OllamaEmbedder) ModelName() string { return e.cfg.Model }

// Healthy checks that the server responds on its version endpoint.
func (e *OllamaEmbedder) Healthy(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.cfg.Host+"/api/version", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: server unreachable at %s: %w", e.cfg.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: health check returned %s", resp.Status)
	}
	return nil
}

// Close marks the embedder unusable and drops idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.client.CloseIdleConnections()
	return nil
}

func (e *OllamaEmbedder) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
