// Package us fetches US equity daily bars from the Alpaca market-data API.
package us

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"dipper/internal/domain"
	"dipper/internal/gather"
	"dipper/internal/util"
)

// Compile-time interface check.
var _ gather.Provider = (*AlpacaProvider)(nil)

// AlpacaProvider serves daily bars for US equities.
type AlpacaProvider struct {
	client      *marketdata.Client
	feed        string
	maxAttempts int
	log         *slog.Logger
}

// NewAlpacaProvider creates a provider with its own market-data client. An
// empty dataURL uses the SDK default endpoint.
func NewAlpacaProvider(apiKey, apiSecret, dataURL, feed string, log *slog.Logger) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if log == nil {
		log = slog.Default()
	}

	return &AlpacaProvider{
		client:      marketdata.NewClient(opts),
		feed:        feed,
		maxAttempts: 3,
		log:         log.With("provider", "alpaca"),
	}
}

// Market returns domain.MarketUS.
func (p *AlpacaProvider) Market() domain.Market { return domain.MarketUS }

// DailyBars fetches unadjusted daily bars for symbol within [start, end].
func (p *AlpacaProvider) DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	symbol = strings.ToUpper(symbol)

	var raw []marketdata.Bar
	err := util.Retry(ctx, p.maxAttempts, time.Second, func() error {
		if err := ctx.Err(); err != nil {
			return util.Permanent(err)
		}
		var err error
		raw, err = p.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame:  marketdata.OneDay,
			Adjustment: marketdata.Raw,
			Start:      start,
			// End is inclusive of the whole last day.
			End:  end.AddDate(0, 0, 1).Add(-time.Second),
			Feed: marketdata.Feed(p.feed),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := convertBars(symbol, raw)
	p.log.Debug("fetched daily bars", "symbol", symbol, "bars", len(bars))
	return bars, nil
}

// convertBars maps Alpaca bars onto trade dates in New York. Amount is
// approximated as VWAP * volume since the API reports no turnover.
func convertBars(symbol string, raw []marketdata.Bar) []domain.Bar {
	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol: symbol,
			Date:   util.TradeDate(ab.Timestamp, domain.MarketUS),
			Open:   ab.Open,
			High:   ab.High,
			Low:    ab.Low,
			Close:  ab.Close,
			Volume: float64(ab.Volume),
			Amount: ab.VWAP * float64(ab.Volume),
		})
	}
	return bars
}
