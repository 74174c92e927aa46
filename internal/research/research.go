// Package research drives asynchronous deep research jobs: start a job,
// poll it until it settles, and return the source URLs it found.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL      = "https://api.firecrawl.dev/v1/deep-research"
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 2 * time.Second
	DefaultPollInterval = 2 * time.Second
)

var (
	ErrStartFailed = errors.New("research job failed to start")
	ErrJobFailed   = errors.New("research job failed")
	ErrJobTimeout  = errors.New("research job did not complete in time")
	ErrNoURLs      = errors.New("research job found no URLs")
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

type Source struct {
	URL string `json:"url"`
}

type Job struct {
	ID      string
	Status  JobStatus
	Sources []Source
}

// Profile scopes one research job.
type Profile struct {
	Name         string
	MaxDepth     int
	MaxURLs      int
	TimeLimit    time.Duration
	PollDeadline time.Duration
}

var StandardProfile = Profile{
	Name:         "standard",
	MaxDepth:     2,
	MaxURLs:      10,
	TimeLimit:    90 * time.Second,
	PollDeadline: 90 * time.Second,
}

// EnhancedProfile is used when the user asked for deep research.
var EnhancedProfile = Profile{
	Name:         "enhanced",
	MaxDepth:     5,
	MaxURLs:      25,
	TimeLimit:    180 * time.Second,
	PollDeadline: 2 * StandardProfile.PollDeadline,
}

func ProfileFor(enhanced bool) Profile {
	if enhanced {
		return EnhancedProfile
	}
	return StandardProfile
}

type Config struct {
	BaseURL      string
	APIKey       string
	MaxRetries   int
	RetryDelay   time.Duration
	PollInterval time.Duration
}

type Client struct {
	baseURL      string
	apiKey       string
	maxRetries   int
	retryDelay   time.Duration
	pollInterval time.Duration
	client       *http.Client
	logger       *zap.Logger
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
}

func New(cfg Config, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       cfg.APIKey,
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
		pollInterval: pollInterval,
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       logger.Named("research"),
		sleep:        sleepContext,
		now:          time.Now,
	}
}

// Research runs the start and poll sequence up to the configured number of
// attempts, sleeping attempt x retry delay between them. It never fails: when
// every attempt errors it returns an empty, non-nil slice.
func (c *Client) Research(ctx context.Context, query string, profile Profile) []string {
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		urls, err := c.runOnce(ctx, query, profile)
		if err == nil {
			return urls
		}
		c.logger.Warn("research attempt failed",
			zap.String("profile", profile.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxRetries),
			zap.Error(err),
		)
		if ctx.Err() != nil || attempt == c.maxRetries {
			break
		}
		if err := c.sleep(ctx, time.Duration(attempt)*c.retryDelay); err != nil {
			break
		}
	}
	return []string{}
}

func (c *Client) runOnce(ctx context.Context, query string, profile Profile) ([]string, error) {
	id, err := c.Start(ctx, query, profile)
	if err != nil {
		return nil, err
	}
	job, err := c.Poll(ctx, id, profile.PollDeadline)
	if err != nil {
		return nil, err
	}
	urls := ValidURLs(job.Sources)
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	c.logger.Info("research job completed", zap.String("job_id", id), zap.Int("urls", len(urls)))
	return urls, nil
}

func (c *Client) Start(ctx context.Context, query string, profile Profile) (string, error) {
	payload := map[string]any{
		"query":     query,
		"maxUrls":   profile.MaxURLs,
		"maxDepth":  profile.MaxDepth,
		"timeLimit": int(profile.TimeLimit / time.Second),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStartFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%w: %s", ErrStartFailed, resp.Status)
	}
	var parsed struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrStartFailed, err)
	}
	if !parsed.Success || parsed.ID == "" {
		return "", ErrStartFailed
	}
	return parsed.ID, nil
}

// Poll checks the job every poll interval until it completes, fails, or the
// deadline passes. An abandoned job is not cancelled remotely.
func (c *Client) Poll(ctx context.Context, id string, deadline time.Duration) (Job, error) {
	until := c.now().Add(deadline)
	for {
		job, err := c.Status(ctx, id)
		if err != nil {
			return Job{}, err
		}
		switch job.Status {
		case JobCompleted:
			return job, nil
		case JobFailed:
			return job, fmt.Errorf("%w: job %s", ErrJobFailed, id)
		}
		if !c.now().Add(c.pollInterval).Before(until) {
			return job, fmt.Errorf("%w: job %s", ErrJobTimeout, id)
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return job, err
		}
	}
}

func (c *Client) Status(ctx context.Context, id string) (Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(id), nil)
	if err != nil {
		return Job{}, err
	}
	c.authorize(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return Job{}, fmt.Errorf("poll research job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Job{}, fmt.Errorf("poll research job: %s", resp.Status)
	}
	var parsed struct {
		Status JobStatus `json:"status"`
		Data   struct {
			Sources []Source `json:"sources"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Job{}, fmt.Errorf("decode research job: %w", err)
	}
	status := parsed.Status
	if status == "" {
		status = JobPending
	}
	return Job{ID: id, Status: status, Sources: parsed.Data.Sources}, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// ValidURLs keeps the well formed absolute http(s) URLs of sources, dropping
// duplicates and preserving order.
func ValidURLs(sources []Source) []string {
	urls := make([]string, 0, len(sources))
	seen := make(map[string]struct{}, len(sources))
	for _, source := range sources {
		raw := strings.TrimSpace(source.URL)
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" {
			continue
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			continue
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		urls = append(urls, raw)
	}
	return urls
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
