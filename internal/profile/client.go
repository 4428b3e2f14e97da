package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/guildgate/guildgate/internal/config"
)

// Fetcher is the profile lookup contract consumed by verification.
type Fetcher interface {
	FetchProfile(ctx context.Context, name string) (Snapshot, error)
	FetchNameHistory(ctx context.Context, name string) ([]NameHistoryEntry, error)
}

// Client talks to the profile service over HTTP. Concurrent lookups of the same
// name share one upstream request and all requests pass one rate limiter.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
}

var _ Fetcher = (*Client)(nil)

type apiError struct {
	Error string `json:"error"`
}

type playerResponse struct {
	Snapshot
	Error string `json:"error"`
}

type historyResponse struct {
	Hidden bool               `json:"hidden"`
	Names  []NameHistoryEntry `json:"names"`
	Error  string             `json:"error"`
}

// NewClient builds a profile client from config.
func NewClient(log *slog.Logger, cfg config.ProfileConfig) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	timeout, err := cfg.ParsedTimeout()
	if err != nil {
		return nil, fmt.Errorf("profile timeout: %w", err)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("profile base_url is required")
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	c := resty.New()
	c.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	c.SetTimeout(timeout)
	c.SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		c.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Client{
		http:    c,
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
		logger:  log.With(slog.String("service", "profile")),
	}, nil
}

// FetchProfile returns the public profile for name.
func (c *Client) FetchProfile(ctx context.Context, name string) (Snapshot, error) {
	key := "profile:" + strings.ToLower(strings.TrimSpace(name))
	v, err := c.shared(ctx, "fetch profile", key, func(ctx context.Context) (any, error) {
		return c.fetchProfile(ctx, name)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// FetchNameHistory returns the rename history for name, newest first.
func (c *Client) FetchNameHistory(ctx context.Context, name string) ([]NameHistoryEntry, error) {
	key := "history:" + strings.ToLower(strings.TrimSpace(name))
	v, err := c.shared(ctx, "fetch name history", key, func(ctx context.Context) (any, error) {
		return c.fetchNameHistory(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	history := v.([]NameHistoryEntry)
	out := make([]NameHistoryEntry, len(history))
	copy(out, history)
	return out, nil
}

// shared joins the in-flight request for key or starts one. The upstream call
// is bounded by the client timeout only, so a caller giving up does not fail
// the others waiting on the same name.
func (c *Client) shared(ctx context.Context, op, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return fn(callCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, &ServiceError{Op: op, Err: context.Cause(ctx)}
	}
}

func (c *Client) fetchProfile(ctx context.Context, name string) (Snapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Snapshot{}, &ServiceError{Op: "fetch profile", Err: err}
	}
	var out playerResponse
	var apiErr apiError
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("name", strings.TrimSpace(name)).
		SetResult(&out).
		SetError(&apiErr).
		Get("/player/{name}")
	if err != nil {
		c.logger.Error("fetch profile failed", slog.String("name", name), slog.Any("error", err))
		return Snapshot{}, &ServiceError{Op: "fetch profile", Err: err}
	}
	c.logger.Debug("fetch profile", slog.String("name", name), slog.Int("status", resp.StatusCode()), slog.Duration("latency", time.Since(start)))
	if resp.StatusCode() == http.StatusNotFound {
		return Snapshot{}, ErrNotFound
	}
	if resp.IsError() {
		return Snapshot{}, &ServiceError{Op: "fetch profile", Status: resp.StatusCode(), Err: errors.New(nonEmpty(apiErr.Error, resp.Status()))}
	}
	if msg := strings.TrimSpace(out.Error); msg != "" {
		if strings.Contains(strings.ToLower(msg), "not found") {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, &ServiceError{Op: "fetch profile", Status: resp.StatusCode(), Err: errors.New(msg)}
	}
	if strings.TrimSpace(out.Name) == "" {
		return Snapshot{}, ErrNotFound
	}
	return out.Snapshot, nil
}

func (c *Client) fetchNameHistory(ctx context.Context, name string) ([]NameHistoryEntry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ServiceError{Op: "fetch name history", Err: err}
	}
	var out historyResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("name", strings.TrimSpace(name)).
		SetResult(&out).
		SetError(&apiErr).
		Get("/player/{name}/name-history")
	if err != nil {
		c.logger.Error("fetch name history failed", slog.String("name", name), slog.Any("error", err))
		return nil, &ServiceError{Op: "fetch name history", Err: err}
	}
	if resp.StatusCode() == http.StatusForbidden {
		return nil, ErrHistoryHidden
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.IsError() {
		return nil, &ServiceError{Op: "fetch name history", Status: resp.StatusCode(), Err: errors.New(nonEmpty(apiErr.Error, resp.Status()))}
	}
	if msg := strings.TrimSpace(out.Error); msg != "" {
		return nil, &ServiceError{Op: "fetch name history", Status: resp.StatusCode(), Err: errors.New(msg)}
	}
	if out.Hidden {
		return nil, ErrHistoryHidden
	}
	return out.Names, nil
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return "unknown error"
}
