// Package reader turns web pages into markdown through a Jina-style reader
// service and fans fetches out over batches of URLs.
package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL         = "https://r.jina.ai"
	DefaultMinContentChars = 100
	DefaultBatchSize       = 5
)

var ErrRateLimited = errors.New("reader rate limited")

type Status string

const (
	StatusOK          Status = "ok"
	StatusRateLimited Status = "rate_limited"
	StatusFailed      Status = "failed"
	StatusInvalid     Status = "invalid"
)

// Result is the outcome of fetching one URL. Markdown is only set when
// Status is StatusOK.
type Result struct {
	URL      string
	Markdown string
	Status   Status
	Depth    int
	Err      error
}

func (r Result) OK() bool {
	return r.Status == StatusOK
}

type Config struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	MaxDepth        int
	MinContentChars int
}

type Client struct {
	baseURL  string
	apiKey   string
	maxDepth int
	minChars int
	client   *http.Client
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   cfg.APIKey,
		maxDepth: max(cfg.MaxDepth, 1),
		minChars: positiveOr(cfg.MinContentChars, DefaultMinContentChars),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.Named("reader"),
	}
}

// Fetch escalates the fetch depth until the reader returns usable content.
// It never returns an error: failures are reported through Result.Status.
// A 429 stops escalation immediately.
func (c *Client) Fetch(ctx context.Context, target string) Result {
	result := Result{URL: target, Status: StatusInvalid}
	for depth := 1; depth <= c.maxDepth; depth++ {
		result.Depth = depth
		content, err := c.fetchDepth(ctx, target, depth)
		if errors.Is(err, ErrRateLimited) {
			c.logger.Warn("reader rate limited", zap.String("url", target), zap.Int("depth", depth))
			result.Status = StatusRateLimited
			result.Err = err
			return result
		}
		if err != nil {
			c.logger.Warn("reader fetch failed", zap.String("url", target), zap.Int("depth", depth), zap.Error(err))
			result.Status = StatusFailed
			result.Err = err
			if ctx.Err() != nil {
				return result
			}
			continue
		}
		if IsUsableContent(content, c.minChars) {
			return Result{URL: target, Markdown: content, Status: StatusOK, Depth: depth}
		}
		result.Status = StatusInvalid
		result.Err = nil
	}
	if result.Status == StatusInvalid {
		c.logger.Debug("reader content unusable", zap.String("url", target), zap.Int("depth", result.Depth))
	}
	return result
}

func (c *Client) fetchDepth(ctx context.Context, target string, depth int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(target), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if depth > 1 {
		req.Header.Set("x-wait-for-selector", "body")
		req.Header.Set("x-max-wait-time", strconv.Itoa(5*depth))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("reader request failed: %s", resp.Status)
	}

	var parsed struct {
		Data struct {
			Content string `json:"content"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode reader response: %w", err)
	}
	return parsed.Data.Content, nil
}

var (
	headingRE    = regexp.MustCompile(`(?m)^#{1,6}\s+\S`)
	listItemRE   = regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+\.)\s+\S`)
	inlineMathRE = regexp.MustCompile(`\$[^$\n]+\$`)
	codeSpanRE   = regexp.MustCompile("`[^`\n]+`")
)

// IsUsableContent reports whether text is long enough and carries at least
// one markdown structure marker. A minChars of zero uses the default.
func IsUsableContent(text string, minChars int) bool {
	minChars = positiveOr(minChars, DefaultMinContentChars)
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < minChars {
		return false
	}
	return headingRE.MatchString(trimmed) ||
		listItemRE.MatchString(trimmed) ||
		inlineMathRE.MatchString(trimmed) ||
		codeSpanRE.MatchString(trimmed)
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
