package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"tankwatch/internal/logger"
)

// Transport tuning. The service contract allows a 10 second budget per
// request with up to 3 attempts for idempotent reads.
const (
	requestTimeout  = 10 * time.Second
	maxReadAttempts = 3
	retryBaseDelay  = 250 * time.Millisecond
)

// Config holds the remote service coordinates and credentials.
type Config struct {
	BaseURL string // e.g. https://<project>.example.co
	APIKey  string // anonymous/public API key, sent on every request
	FeedURL string // websocket endpoint for the change feed
}

// Client implements DataService over the service's REST data plane.
// Change-feed subscriptions are delegated to the attached Feed.
type Client struct {
	cfg   Config
	http  *http.Client
	token TokenProvider
	feed  *Feed
	log   *logger.Logger
}

// NewClient builds a data-plane client. token may be nil for anonymous
// access; feed may be nil if subscriptions are never opened.
func NewClient(cfg Config, token TokenProvider, feed *Feed, log *logger.Logger) *Client {
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: requestTimeout},
		token: token,
		feed:  feed,
		log:   log,
	}
}

// restURL builds the data-plane URL for a table plus encoded query params.
func (c *Client) restURL(table string, params url.Values) string {
	u := c.cfg.BaseURL + "/rest/v1/" + table
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// encodeQuery translates a Query into the service's filter syntax
// (column=eq.value, order=key.desc, limit=n).
func encodeQuery(q Query) url.Values {
	params := url.Values{}
	for _, f := range q.Filters {
		params.Set(f.Column, "eq."+f.Value)
	}
	if q.OrderBy != "" {
		dir := ".asc"
		if q.Descending {
			dir = ".desc"
		}
		params.Set("order", q.OrderBy+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return params
}

// Query fetches matching rows. Zero rows is a normal result, not an error.
func (c *Client) Query(ctx context.Context, table string, q Query) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	err := c.doWithRetry(ctx, func() error {
		return c.do(ctx, http.MethodGet, c.restURL(table, encodeQuery(q)), nil, nil, &rows)
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	return rows, nil
}

// Insert creates a row and returns the server representation (assigned id
// and timestamps). Writes are never retried.
func (c *Client) Insert(ctx context.Context, table string, row any) (json.RawMessage, error) {
	var out []json.RawMessage
	hdr := http.Header{"Prefer": []string{"return=representation"}}
	if err := c.do(ctx, http.MethodPost, c.restURL(table, nil), hdr, row, &out); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	if len(out) == 0 {
		return nil, &ServiceError{Status: http.StatusInternalServerError, Message: "insert returned no row"}
	}
	return out[0], nil
}

// Update patches the row with the given id and returns the updated image.
func (c *Client) Update(ctx context.Context, table, id string, patch any) (json.RawMessage, error) {
	params := url.Values{}
	params.Set("id", "eq."+id)
	hdr := http.Header{"Prefer": []string{"return=representation"}}
	var out []json.RawMessage
	if err := c.do(ctx, http.MethodPatch, c.restURL(table, params), hdr, patch, &out); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", table, id, err)
	}
	if len(out) == 0 {
		return nil, &ServiceError{Status: http.StatusNotFound, Message: "no row matched id " + id}
	}
	return out[0], nil
}

// Delete removes the row with the given id.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	params := url.Values{}
	params.Set("id", "eq."+id)
	if err := c.do(ctx, http.MethodDelete, c.restURL(table, params), nil, nil, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return nil
}

// Subscribe opens a change-feed subscription via the attached Feed.
func (c *Client) Subscribe(table string, filter *Filter, kinds []EventKind, fn EventHandler) (*Subscription, error) {
	if c.feed == nil {
		return nil, ErrFeedClosed
	}
	return c.feed.Subscribe(table, filter, kinds, fn)
}

// doWithRetry retries transient failures (network errors, 5xx) for
// idempotent requests, backing off between attempts.
func (c *Client) doWithRetry(ctx context.Context, call func() error) error {
	var err error
	for attempt := 1; attempt <= maxReadAttempts; attempt++ {
		err = call()
		if err == nil || !isRetryable(err) {
			return err
		}
		if attempt == maxReadAttempts {
			break
		}
		delay := retryBaseDelay * time.Duration(1<<(attempt-1))
		c.log.Debugw("remote_retry", "attempt", attempt, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isRetryable treats server-side failures as transient; 4xx are terminal.
func isRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Status >= http.StatusInternalServerError
	}
	return true // network-level failure
}

// do performs one HTTP round trip with auth headers, decoding a JSON body
// into out when provided.
func (c *Client) do(ctx context.Context, method, rawURL string, hdr http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("apikey", c.cfg.APIKey)
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeServiceError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// decodeServiceError turns an error response into a *ServiceError,
// tolerating non-JSON bodies.
func decodeServiceError(resp *http.Response) error {
	se := &ServiceError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
		se.Code = body.Code
		if body.Message != "" {
			se.Message = body.Message
		} else if body.Msg != "" {
			se.Message = body.Msg
		}
	}
	return se
}
