// Package superset talks to the Apache Superset REST API: it logs in, re-signs
// the issued access token with a local secret, and registers the destination
// database and table as a dataset.
package superset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	loginPath   = "api/v1/security/login"
	csrfPath    = "api/v1/security/csrf_token/"
	databaseAPI = "api/v1/database/"
	datasetAPI  = "api/v1/dataset/"
)

// Config configures a Client
type Config struct {
	BaseURL  string
	Username string
	Password string
	Provider string
	// Secret re-signs the access token (HS256)
	Secret []byte
	// Bearer selects which token authorises API calls: "signed" or "access"
	Bearer   string
	PageSize int
	Timeout  time.Duration
	// RPS throttles outbound requests; <= 0 disables throttling
	RPS float64
	// RetryWait is the initial backoff before the single retry
	RetryWait time.Duration
}

// StatusError is a non-2xx response from Superset
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Client is a Superset API client. A Client keeps a cookie jar, so the CSRF
// token it fetches stays bound to the same session.
type Client struct {
	cfg     Config
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

// New returns a client for cfg.BaseURL
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid superset url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid superset url %q: scheme and host are required", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	if cfg.Provider == "" {
		cfg.Provider = "db"
	}
	if cfg.Bearer == "" {
		cfg.Bearer = "signed"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &Client{
		cfg:     cfg,
		base:    base,
		http:    &http.Client{Timeout: cfg.Timeout, Jar: jar},
		limiter: limiter,
	}, nil
}

// BaseURL returns the normalised API root
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.base.ResolveReference(&url.URL{Path: path})
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryWait
	return backoff.WithContext(backoff.WithMaxRetries(b, 1), ctx)
}

// do sends one JSON request, retrying once on transport errors and 5xx.
// out, when non-nil, receives the decoded 2xx body.
func (c *Client) do(ctx context.Context, method, target string, header http.Header, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	logCtx := log.WithFields(log.Fields{"method": method, "url": target})

	var respBody []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logCtx.WithError(err).Warn("Superset request failed")
			return err
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			statusErr := &StatusError{Method: method, URL: target, Code: resp.StatusCode, Body: truncate(string(respBody), 512)}
			if resp.StatusCode >= 500 {
				logCtx.WithField("status", resp.StatusCode).Warn("Superset server error")
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		return nil
	}

	if err := backoff.Retry(operation, c.newBackOff(ctx)); err != nil {
		return err
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, target, err)
		}
	}
	return nil
}

// IsStatus reports whether err is a StatusError with the given code
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
