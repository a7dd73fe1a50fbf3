// Package client implements the NYC Open Data (Socrata) 311 service-request
// API client: a retrying HTTP transport, SoQL query construction, and
// offset-based pagination over filtered result sets.
package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the API client settings.
type Config struct {
	// BaseURL is the dataset resource endpoint (the .json resource URL).
	BaseURL string

	// AppToken is the optional Socrata application token. Requests work
	// without it but share the anonymous rate-limit pool.
	AppToken string

	// Timeout applies to each individual page request.
	Timeout time.Duration

	// MaxRetries is the retry ceiling for transient failures (429/5xx and
	// network errors) on a single page request.
	MaxRetries int

	// RetryBackoff is the base backoff; retry n sleeps RetryBackoff * 2^n
	// unless the server sends Retry-After.
	RetryBackoff time.Duration

	// PageSize is the $limit sent per page request.
	PageSize int

	// PageDelay is the fixed pause between consecutive page requests.
	PageDelay time.Duration
}

// ApplyDefaults fills zero-valued settings with production defaults.
func (c *Config) ApplyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://data.cityofnewyork.us/resource/erm2-nwe9.json"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.PageSize == 0 {
		c.PageSize = 10000
	}
	if c.PageDelay == 0 {
		c.PageDelay = 100 * time.Millisecond
	}
}

// Client is a Socrata 311 API client. It issues one request at a time and
// holds no state between calls beyond the optional page observer.
type Client struct {
	cfg      Config
	http     *http.Client
	pageFunc func(offset int, raw []byte)
}

// New creates a client with the given config, applying defaults.
func New(cfg Config) *Client {
	cfg.ApplyDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Config returns the effective client configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// SetPageObserver registers a callback invoked with every successfully
// fetched page's offset and raw JSON body, before the page is decoded.
// Pass nil to clear. Used by the raw archiver.
func (c *Client) SetPageObserver(fn func(offset int, raw []byte)) {
	c.pageFunc = fn
}

// getJSON performs one GET with bounded retry on transient failures. 429 and
// 5xx responses honor Retry-After when present, otherwise back off
// exponentially. Other non-200 responses fail immediately with no retry.
func (c *Client) getJSON(fullURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequest(http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.cfg.AppToken != "" {
			req.Header.Set("X-App-Token", c.cfg.AppToken)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.cfg.MaxRetries {
				time.Sleep(c.backoff(attempt, ""))
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			retryAfter := resp.Header.Get("Retry-After")
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("http %d", resp.StatusCode)
			if attempt < c.cfg.MaxRetries {
				time.Sleep(c.backoff(attempt, retryAfter))
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)
}

// backoff computes the sleep before the next retry. A parseable Retry-After
// header wins; otherwise exponential from the configured base.
func (c *Client) backoff(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if when, err := http.ParseTime(retryAfter); err == nil {
			if d := time.Until(when); d > 0 {
				return d
			}
		}
	}
	return c.cfg.RetryBackoff * (1 << attempt)
}

// pageURL builds the SoQL query URL for one page.
func (c *Client) pageURL(where string, offset int) string {
	q := url.Values{}
	q.Set("$order", "created_date DESC")
	q.Set("$limit", strconv.Itoa(c.cfg.PageSize))
	q.Set("$offset", strconv.Itoa(offset))
	if where != "" {
		q.Set("$where", where)
	}
	return c.cfg.BaseURL + "?" + q.Encode()
}

// FetchPage fetches and decodes a single page of records at the given offset.
func (c *Client) FetchPage(where string, offset int) ([]Record, error) {
	raw, err := c.getJSON(c.pageURL(where, offset))
	if err != nil {
		return nil, fmt.Errorf("fetch page offset=%d: %w", offset, err)
	}

	var page []Record
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode page offset=%d: %w", offset, err)
	}

	if c.pageFunc != nil {
		c.pageFunc(offset, raw)
	}
	return page, nil
}
