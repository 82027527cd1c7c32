// Package analyzer talks to a Presidio compatible entity recognition service.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// Client implements privacy.Recognizer over HTTP.
type Client struct {
	baseURL        string
	scoreThreshold float64
	client         *resty.Client
	limiter        *rate.Limiter
	logger         *zap.Logger
}

type pattern struct {
	Name  string  `json:"name"`
	Regex string  `json:"regex"`
	Score float64 `json:"score"`
}

type adHocRecognizer struct {
	Name              string    `json:"name"`
	SupportedLanguage string    `json:"supported_language"`
	SupportedEntity   string    `json:"supported_entity"`
	Patterns          []pattern `json:"patterns"`
}

type analyzeBody struct {
	Text             string            `json:"text"`
	Language         string            `json:"language"`
	Entities         []string          `json:"entities,omitempty"`
	ScoreThreshold   float64           `json:"score_threshold,omitempty"`
	AdHocRecognizers []adHocRecognizer `json:"ad_hoc_recognizers,omitempty"`
}

// NewClient creates a client from the analyzer section of the configuration.
func NewClient(cfg config.AnalyzerConfig, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("analyzer url is empty: %w", privacy.ErrRecognizerUnavailable)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(cfg.Retries)
	client.SetRetryWaitTime(200 * time.Millisecond)
	client.SetRetryMaxWaitTime(2 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.URL, "/"),
		scoreThreshold: cfg.ScoreThreshold,
		client:         client,
		limiter:        rate.NewLimiter(limit, burst),
		logger:         logger,
	}, nil
}

// Analyze implements privacy.Recognizer.
func (c *Client) Analyze(ctx context.Context, req privacy.AnalyzeRequest) ([]privacy.RecognizerResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("analyzer throttled: %w", err)
	}

	body := analyzeBody{
		Text:           req.Text,
		Language:       req.Language,
		Entities:       req.Entities,
		ScoreThreshold: c.scoreThreshold,
	}
	for _, r := range req.Recognizers {
		body.AdHocRecognizers = append(body.AdHocRecognizers, adHocRecognizer{
			Name:              r.Name,
			SupportedLanguage: req.Language,
			SupportedEntity:   r.Entity,
			Patterns:          []pattern{{Name: r.Entity, Regex: r.Regex, Score: r.Score}},
		})
	}

	started := time.Now()
	response, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.baseURL + "/analyze")
	if err != nil {
		return nil, fmt.Errorf("calling analyzer: %v: %w", err, privacy.ErrRecognizerUnavailable)
	}

	if response.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("analyzer returned %d: %s: %w",
			response.StatusCode(), truncate(response.String(), 200), privacy.ErrRecognizerUnavailable)
	}

	var results []privacy.RecognizerResult
	if err := json.Unmarshal(response.Body(), &results); err != nil {
		return nil, fmt.Errorf("decoding analyzer response: %v: %w", err, privacy.ErrRecognizerUnavailable)
	}

	c.logger.Debug("Analyzer call completed",
		zap.Int("results", len(results)),
		zap.Duration("elapsed", time.Since(started)),
	)

	return results, nil
}

// Health checks that the analyzer answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	response, err := c.client.R().
		SetContext(ctx).
		Get(c.baseURL + "/health")
	if err != nil {
		return fmt.Errorf("analyzer health: %v: %w", err, privacy.ErrRecognizerUnavailable)
	}
	if response.StatusCode() != http.StatusOK {
		return fmt.Errorf("analyzer health returned %d: %w", response.StatusCode(), privacy.ErrRecognizerUnavailable)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
