// Package cn fetches China A-share daily bars from a tushare-compatible HTTP
// API.
package cn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"dipper/internal/domain"
	"dipper/internal/gather"
	"dipper/internal/util"
)

// Compile-time interface check.
var _ gather.Provider = (*TushareClient)(nil)

// codeRateLimited is returned by the API when the per-minute quota is spent.
const codeRateLimited = 40203

// dailyFields are requested in this order; parsing looks fields up by name.
var dailyFields = []string{"ts_code", "trade_date", "open", "high", "low", "close", "vol", "amount"}

// APIError is a non-zero code in the response envelope.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tushare api error %d: %s", e.Code, e.Msg)
}

// Options configures a TushareClient.
type Options struct {
	Token           string
	URL             string
	RateLimitPerMin int
	MaxAttempts     int
	RetryDelay      time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// TushareClient is an explicitly constructed handle on the tushare API. It
// carries its own HTTP client, token and rate limiter; nothing is shared
// between clients.
type TushareClient struct {
	url         string
	token       string
	httpClient  *http.Client
	limiter     *util.RateLimiter
	maxAttempts int
	retryDelay  time.Duration
	log         *slog.Logger
}

// NewTushareClient creates a client from opts, filling in defaults for
// zero-valued fields.
func NewTushareClient(opts Options) *TushareClient {
	c := &TushareClient{
		url:         opts.URL,
		token:       opts.Token,
		httpClient:  opts.HTTPClient,
		limiter:     util.NewRateLimiter(opts.RateLimitPerMin, 1),
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		log:         opts.Logger,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.retryDelay <= 0 {
		c.retryDelay = time.Second
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("provider", "tushare")
	return c
}

// Market returns domain.MarketCN.
func (c *TushareClient) Market() domain.Market { return domain.MarketCN }

type request struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type response struct {
	RequestID string `json:"request_id"`
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	Data      *struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// DailyBars fetches unadjusted daily bars for a ts_code such as "600519.SH".
// Volume is converted from lots to shares and amount from thousands of CNY
// to CNY. Bars are returned oldest first.
func (c *TushareClient) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	req := request{
		APIName: "daily",
		Token:   c.token,
		Params: map[string]string{
			"ts_code":    strings.ToUpper(symbol),
			"start_date": start.Format(util.CompactDate),
			"end_date":   end.Format(util.CompactDate),
		},
		Fields: strings.Join(dailyFields, ","),
	}

	var resp *response
	err := util.Retry(ctx, c.maxAttempts, c.retryDelay, func() error {
		var err error
		resp, err = c.call(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("daily %s: %w", symbol, err)
	}

	bars, err := parseDaily(resp)
	if err != nil {
		return nil, fmt.Errorf("daily %s: %w", symbol, err)
	}
	c.log.Debug("fetched daily bars", "symbol", symbol, "bars", len(bars), "requestID", resp.RequestID)
	return bars, nil
}

// call performs one round trip. Transport failures, 5xx responses and
// rate-limit codes are retryable; everything else is permanent.
func (c *TushareClient) call(ctx context.Context, req request) (*response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, util.Permanent(err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, util.Permanent(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, util.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, util.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("http %d", httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, util.Permanent(fmt.Errorf("http %d: %s", httpResp.StatusCode, bytes.TrimSpace(raw)))
	}

	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, util.Permanent(fmt.Errorf("decoding response: %w", err))
	}
	if resp.Code != 0 {
		apiErr := &APIError{Code: resp.Code, Msg: resp.Msg}
		if resp.Code == codeRateLimited {
			c.log.Warn("rate limited, backing off", "msg", resp.Msg)
			return nil, apiErr
		}
		return nil, util.Permanent(apiErr)
	}
	return &resp, nil
}

// parseDaily converts the tabular payload into bars sorted by date.
func parseDaily(resp *response) ([]domain.Bar, error) {
	if resp.Data == nil {
		return nil, nil
	}
	col := make(map[string]int, len(resp.Data.Fields))
	for i, f := range resp.Data.Fields {
		col[f] = i
	}
	for _, f := range dailyFields {
		if _, ok := col[f]; !ok {
			return nil, fmt.Errorf("response missing field %q", f)
		}
	}

	bars := make([]domain.Bar, 0, len(resp.Data.Items))
	for n, item := range resp.Data.Items {
		if len(item) != len(resp.Data.Fields) {
			return nil, fmt.Errorf("row %d has %d values, want %d", n, len(item), len(resp.Data.Fields))
		}
		code, _ := item[col["ts_code"]].(string)
		dateStr, _ := item[col["trade_date"]].(string)
		date, err := time.Parse(util.CompactDate, dateStr)
		if err != nil {
			return nil, fmt.Errorf("row %d: trade_date %q: %w", n, dateStr, err)
		}

		var vals [6]float64
		for i, f := range []string{"open", "high", "low", "close", "vol", "amount"} {
			v, err := toFloat(item[col[f]])
			if err != nil {
				return nil, fmt.Errorf("row %d: %s: %w", n, f, err)
			}
			vals[i] = v
		}

		bars = append(bars, domain.Bar{
			Symbol: code,
			Date:   date,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4] * 100,
			Amount: vals[5] * 1000,
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// toFloat accepts JSON numbers, numeric strings and null (as zero, the
// value the API uses for suspended days).
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return x, nil
	case string:
		if x == "" {
			return 0, nil
		}
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
