// Package scienceclient is a typed RPC wrapper over the inference service:
// embed, retrieve, rerank (C5, §4.5). The client idiom — functional
// options, an injected rate limiter, a wrapped *http.Client — follows the
// teacher's own HTTP client packages.
package scienceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/ctrlmap/mapper/internal/common"
	"github.com/ctrlmap/mapper/internal/interfaces"
	"github.com/ctrlmap/mapper/internal/pipelineerr"
)

// Client implements interfaces.ScienceClient over JSON/HTTP.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      *common.Logger
	limiter     *rate.Limiter
	readTimeout time.Duration
	maxRetries  int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger injects a logger; defaults to a silent logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimit caps outbound requests per second; 0 disables limiting.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithReadTimeout sets the per-attempt read timeout (§4.5 default 30s).
func WithReadTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.readTimeout = d }
}

// WithMaxRetries bounds ScienceTransient retries (§7 default 3).
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithHTTPClient overrides the underlying *http.Client, e.g. in tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a Client against baseURL with an overall timeout
// (§4.5 default 120s total).
func NewClient(baseURL string, overallTimeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: overallTimeout},
		logger:      common.NewSilentLogger(),
		readTimeout: 30 * time.Second,
		maxRetries:  3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embedRequest struct {
	ControlID string `json:"controlId"`
	Text      string `json:"text"`
}

type embedResponse struct {
	Vector   []float32 `json:"vector"`
	CacheHit bool      `json:"cacheHit"`
}

func (c *Client) Embed(ctx context.Context, controlID, text string) (interfaces.EmbedResult, error) {
	var resp embedResponse
	err := c.doWithRetry(ctx, "/embed", embedRequest{ControlID: controlID, Text: text}, &resp)
	if err != nil {
		return interfaces.EmbedResult{}, err
	}
	return interfaces.EmbedResult{Vector: resp.Vector, CacheHit: resp.CacheHit}, nil
}

type embedBatchRequest struct {
	Items []interfaces.EmbedBatchItem `json:"items"`
}

func (c *Client) EmbedBatch(ctx context.Context, items []interfaces.EmbedBatchItem) ([]interfaces.EmbedBatchResult, error) {
	var resp []interfaces.EmbedBatchResult
	err := c.doWithRetry(ctx, "/embed/batch", embedBatchRequest{Items: items}, &resp)
	return resp, err
}

type retrieveRequest struct {
	SourceVector  []float32   `json:"sourceVector"`
	TargetVectors [][]float32 `json:"targetVectors"`
	TopK          int         `json:"topK"`
}

func (c *Client) Retrieve(ctx context.Context, sourceVector []float32, targetVectors [][]float32, topK int) ([]interfaces.RetrieveMatch, error) {
	var resp []interfaces.RetrieveMatch
	err := c.doWithRetry(ctx, "/retrieve", retrieveRequest{SourceVector: sourceVector, TargetVectors: targetVectors, TopK: topK}, &resp)
	return resp, err
}

type rerankRequest struct {
	SourceText string                       `json:"sourceText"`
	Candidates []interfaces.RerankCandidate `json:"candidates"`
}

func (c *Client) Rerank(ctx context.Context, sourceText string, candidates []interfaces.RerankCandidate) ([]interfaces.RerankResult, error) {
	var resp []interfaces.RerankResult
	err := c.doWithRetry(ctx, "/rerank", rerankRequest{SourceText: sourceText, Candidates: candidates}, &resp)
	return resp, err
}

// doWithRetry posts body to baseURL+path and decodes the response into out,
// retrying ErrScienceTransient with exponential backoff 500ms/1s/2s (§7).
func (c *Client) doWithRetry(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request for %s: %w", path, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0
	retrier := backoff.WithMaxRetries(policy, uint64(c.maxRetries))

	attempt := 0
	op := func() error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request for %s: %w", path, err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("science client transient error")
			return fmt.Errorf("%w: %v", pipelineerr.ErrScienceTransient, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			c.logger.Warn().Str("path", path).Int("status", resp.StatusCode).Int("attempt", attempt).Msg("science client transient error")
			return fmt.Errorf("%w: status %d", pipelineerr.ErrScienceTransient, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("science client %s: status %d: %s", path, resp.StatusCode, string(b)))
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response for %s: %w", path, err))
		}
		return nil
	}

	if err := backoff.Retry(op, retrier); err != nil {
		return fmt.Errorf("%w: %s exhausted retries: %v", pipelineerr.ErrScienceUnavailable, path, err)
	}
	return nil
}

var _ interfaces.ScienceClient = (*Client)(nil)
