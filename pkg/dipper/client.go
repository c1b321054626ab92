// Package dipper is a Go client for the dipper-server HTTP API.
package dipper

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
	"strings"
	"time"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dipper api: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client provides a Go SDK for interacting with the dipper-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new dipper API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RunBacktest runs a backtest on the server.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	var resp BacktestResponse
	if err := c.do(ctx, http.MethodPost, "/api/backtest", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns lists persisted runs, newest first. An empty symbol lists all;
// limit <= 0 uses the server default.
func (c *Client) ListRuns(ctx context.Context, symbol string, limit int) ([]RunRecord, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var runs []RunRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun fetches one persisted run with its positions.
func (c *Client) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	var run RunDetail
	if err := c.do(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Presets returns the parameter presets the server knows.
func (c *Client) Presets(ctx context.Context) (map[string]Params, error) {
	var presets map[string]Params
	if err := c.do(ctx, http.MethodGet, "/api/presets", nil, &presets); err != nil {
		return nil, err
	}
	return presets, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
