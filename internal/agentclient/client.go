// Package agentclient is a typed RPC wrapper over the agent service:
// enrich, reason (C6, §4.6).
package agentclient

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

// Client implements interfaces.AgentClient over JSON/HTTP.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	logger         *common.Logger
	limiter        *rate.Limiter
	enrichTimeout  time.Duration
	reasonTimeout  time.Duration
	enrichRetries  int
	reasonRetries  int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimit caps outbound requests per second; relevant because S5 fans
// out up to reasoningConcurrency concurrent Reason calls against the same
// collaborator.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
		}
	}
}

func WithEnrichTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.enrichTimeout = d }
}

func WithReasonTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.reasonTimeout = d }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a Client against baseURL. Enrich defaults to a 60s
// per-attempt timeout with 2 retries; Reason defaults to a 5s per-attempt
// timeout with 2 retries (§4.6, §7).
func NewClient(baseURL string, overallTimeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: overallTimeout},
		logger:        common.NewSilentLogger(),
		enrichTimeout: 60 * time.Second,
		reasonTimeout: 5 * time.Second,
		enrichRetries: 2,
		reasonRetries: 2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type enrichWire struct {
	FrameworkName    string `json:"frameworkName"`
	FrameworkVersion string `json:"frameworkVersion"`
	ShortID          string `json:"shortId"`
	Title            string `json:"title"`
	Description      string `json:"description"`
}

type enrichResponseWire struct {
	EnrichedText string `json:"enrichedText"`
	Status       string `json:"status"`
}

func (c *Client) Enrich(ctx context.Context, req interfaces.EnrichRequest) (interfaces.EnrichResult, error) {
	var resp enrichResponseWire
	err := c.doWithRetry(ctx, "/enrich", c.enrichTimeout, c.enrichRetries, enrichWire{
		FrameworkName:    req.FrameworkName,
		FrameworkVersion: req.FrameworkVersion,
		ShortID:          req.ShortID,
		Title:            req.Title,
		Description:      req.Description,
	}, &resp)
	if err != nil {
		return interfaces.EnrichResult{}, err
	}
	return interfaces.EnrichResult{EnrichedText: resp.EnrichedText, Status: resp.Status}, nil
}

type reasonMappingWire struct {
	TargetControlID string  `json:"targetControlId"`
	TargetFramework string  `json:"targetFramework"`
	Text            string  `json:"text"`
	SimilarityScore float64 `json:"similarityScore"`
	RerankScore     float64 `json:"rerankScore"`
}

type reasonWire struct {
	SourceControlID string            `json:"sourceControlId"`
	SourceText      string            `json:"sourceText"`
	Mapping         reasonMappingWire `json:"mapping"`
}

type reasonResponseWire struct {
	Reasoning string `json:"reasoning"`
	Status    string `json:"status"`
}

func (c *Client) Reason(ctx context.Context, req interfaces.ReasonRequest) (interfaces.ReasonResult, error) {
	var resp reasonResponseWire
	err := c.doWithRetry(ctx, "/reason", c.reasonTimeout, c.reasonRetries, reasonWire{
		SourceControlID: req.SourceControlID,
		SourceText:      req.SourceText,
		Mapping: reasonMappingWire{
			TargetControlID: req.Mapping.TargetControlID,
			TargetFramework: req.Mapping.TargetFramework,
			Text:            req.Mapping.Text,
			SimilarityScore: req.Mapping.SimilarityScore,
			RerankScore:     req.Mapping.RerankScore,
		},
	}, &resp)
	if err != nil {
		return interfaces.ReasonResult{}, err
	}
	return interfaces.ReasonResult{Reasoning: resp.Reasoning, Status: resp.Status}, nil
}

// doWithRetry posts body to baseURL+path and decodes the response into out,
// retrying ErrAgentTransient up to maxRetries times with exponential
// backoff (§7).
func (c *Client) doWithRetry(ctx context.Context, path string, perAttemptTimeout time.Duration, maxRetries int, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request for %s: %w", path, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0
	retrier := backoff.WithMaxRetries(policy, uint64(maxRetries))

	attempt := 0
	op := func() error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request for %s: %w", path, err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn().Err(err).Str("path", path).Int("attempt", attempt).Msg("agent client transient error")
			return fmt.Errorf("%w: %v", pipelineerr.ErrAgentTransient, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			c.logger.Warn().Str("path", path).Int("status", resp.StatusCode).Int("attempt", attempt).Msg("agent client transient error")
			return fmt.Errorf("%w: status %d", pipelineerr.ErrAgentTransient, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("agent client %s: status %d: %s", path, resp.StatusCode, string(b)))
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
		return fmt.Errorf("%w: %s exhausted retries: %v", pipelineerr.ErrAgentUnavailable, path, err)
	}
	return nil
}

var _ interfaces.AgentClient = (*Client)(nil)
