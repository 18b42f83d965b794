package marketdata

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/hedgeworks/hedged/internal/domain"
)

// Provider is the uniform market-data capability consumed by analysts and the
// backtester.
type Provider interface {
	GetPrices(ctx context.Context, ticker, startDate, endDate string) ([]domain.Price, error)
	GetFinancialMetrics(ctx context.Context, ticker, endDate, period string, limit int) ([]domain.FinancialMetrics, error)
	SearchLineItems(ctx context.Context, ticker string, lineItems []string, endDate, period string, limit int) ([]domain.LineItem, error)
	GetInsiderTrades(ctx context.Context, ticker, endDate, startDate string, limit int) ([]domain.InsiderTrade, error)
	GetCompanyNews(ctx context.Context, ticker, endDate, startDate string, limit int) ([]domain.CompanyNews, error)
	GetMarketCap(ctx context.Context, ticker, endDate string) (*float64, error)
}

// CachedProvider serves from the in-process cache first and fetches only what
// the cache cannot answer.
type CachedProvider struct {
	client *Client
	cache  *Cache
	log    zerolog.Logger
}

// NewCachedProvider wraps a client with a cache.
func NewCachedProvider(client *Client, cache *Cache, log zerolog.Logger) *CachedProvider {
	if cache == nil {
		cache = NewCache()
	}
	return &CachedProvider{
		client: client,
		cache:  cache,
		log:    log.With().Str("component", "marketdata").Logger(),
	}
}

// Cache exposes the owned cache for snapshot persistence.
func (p *CachedProvider) Cache() *Cache {
	return p.cache
}

// GetPrices returns daily bars in [startDate, endDate]. Only sub-ranges no
// prior fetch has covered go upstream; a fully covered request is served
// from cache alone. Cached bars inside the range are never mistaken for a
// complete answer when the range itself was never fetched.
func (p *CachedProvider) GetPrices(ctx context.Context, ticker, startDate, endDate string) ([]domain.Price, error) {
	if startDate == "" || endDate == "" {
		fetched, err := p.client.FetchPrices(ctx, ticker, startDate, endDate)
		if err != nil {
			return nil, err
		}
		p.cache.AddPrices(ticker, fetched)
		return filterPricesByRange(p.cache.Prices(ticker), startDate, endDate), nil
	}

	for _, gap := range p.cache.UncoveredPriceSpans(ticker, span{Start: startDate, End: endDate}) {
		fetched, err := p.client.FetchPrices(ctx, ticker, gap.Start, gap.End)
		if err != nil {
			return nil, err
		}
		p.cache.AddPrices(ticker, fetched)
		// An empty result still covers the gap: weekends and holidays have
		// no bars.
		p.cache.MarkPricesCovered(ticker, gap)
	}
	return filterPricesByRange(p.cache.Prices(ticker), startDate, endDate), nil
}

func filterPricesByRange(prices []domain.Price, startDate, endDate string) []domain.Price {
	var out []domain.Price
	for _, bar := range prices {
		day := bar.Time
		if len(day) > 10 {
			day = day[:10]
		}
		if (startDate == "" || day >= startDate) && (endDate == "" || day <= endDate) {
			out = append(out, bar)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// GetFinancialMetrics returns up to limit metric snapshots at or before
// endDate, most recent first. The cache answers only when a prior fetch
// guaranteed a complete report-period window containing endDate; otherwise a
// newer snapshot could exist upstream that the cache has never seen.
func (p *CachedProvider) GetFinancialMetrics(ctx context.Context, ticker, endDate, period string, limit int) ([]domain.FinancialMetrics, error) {
	if cov, ok := p.cache.MetricsCoverage(ticker, period); ok && cov.End >= endDate && (cov.Start == "" || cov.Start <= endDate) {
		var filtered []domain.FinancialMetrics
		for _, m := range p.cache.FinancialMetrics(ticker) {
			if m.ReportPeriod > endDate || (period != "" && m.Period != period) {
				continue
			}
			if cov.Start != "" && m.ReportPeriod < cov.Start {
				continue
			}
			filtered = append(filtered, m)
		}
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].ReportPeriod > filtered[j].ReportPeriod })
		if len(filtered) >= limit {
			return filtered[:limit], nil
		}
		if cov.Start == "" {
			// Upstream had nothing older on the last exhaustive fetch.
			return filtered, nil
		}
	}

	fetched, err := p.client.FetchFinancialMetrics(ctx, ticker, endDate, period, limit)
	if err != nil {
		return nil, err
	}
	p.cache.AddFinancialMetrics(ticker, fetched)

	cov := span{End: endDate}
	if len(fetched) >= limit {
		// A full page may be truncated; the guarantee stops at the oldest
		// snapshot returned. A short page means upstream is exhausted.
		cov.Start = fetched[0].ReportPeriod
		for _, m := range fetched {
			if m.ReportPeriod < cov.Start {
				cov.Start = m.ReportPeriod
			}
		}
	}
	p.cache.MarkMetricsCovered(ticker, period, cov)

	if len(fetched) == 0 {
		return []domain.FinancialMetrics{}, nil
	}
	return fetched, nil
}

// SearchLineItems is a pass-through: result shape depends on the requested
// item names, so caching by ticker alone would serve wrong answers.
func (p *CachedProvider) SearchLineItems(ctx context.Context, ticker string, lineItems []string, endDate, period string, limit int) ([]domain.LineItem, error) {
	fetched, err := p.client.FetchLineItems(ctx, ticker, lineItems, endDate, period, limit)
	if err != nil {
		return nil, err
	}
	if len(fetched) == 0 {
		return []domain.LineItem{}, nil
	}
	return fetched, nil
}

// GetInsiderTrades returns all trades with filing dates in [startDate,
// endDate]. Uncovered sub-ranges are fetched by paginating backwards from
// the sub-range's end until its start is crossed or a short page signals the
// end; covered sub-ranges come from cache.
func (p *CachedProvider) GetInsiderTrades(ctx context.Context, ticker, endDate, startDate string, limit int) ([]domain.InsiderTrade, error) {
	if startDate == "" {
		// Without a lower bound one page is all we take, and the range
		// index cannot describe the result.
		fetched, err := p.client.FetchInsiderTrades(ctx, ticker, endDate, startDate, limit)
		if err != nil {
			return nil, err
		}
		p.cache.AddInsiderTrades(ticker, fetched)
		sortInsiderTrades(fetched)
		return fetched, nil
	}

	for _, gap := range p.cache.UncoveredTradeSpans(ticker, span{Start: startDate, End: endDate}) {
		fetched, err := p.paginateInsiderTrades(ctx, ticker, gap, limit)
		if err != nil {
			return nil, err
		}
		p.cache.AddInsiderTrades(ticker, fetched)
		p.cache.MarkTradesCovered(ticker, gap)
	}

	var filtered []domain.InsiderTrade
	for _, t := range p.cache.InsiderTrades(ticker) {
		day := t.TransactionDate
		if day == "" {
			day = t.FilingDate
		}
		if day >= startDate && day <= endDate {
			filtered = append(filtered, t)
		}
	}
	sortInsiderTrades(filtered)
	return filtered, nil
}

// paginateInsiderTrades walks one date window backwards page by page.
func (p *CachedProvider) paginateInsiderTrades(ctx context.Context, ticker string, window span, limit int) ([]domain.InsiderTrade, error) {
	var all []domain.InsiderTrade
	currentEnd := window.End
	for {
		page, err := p.client.FetchInsiderTrades(ctx, ticker, currentEnd, window.Start, limit)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		if len(page) < limit {
			break
		}
		oldest := page[0].FilingDate
		for _, t := range page {
			if t.FilingDate < oldest {
				oldest = t.FilingDate
			}
		}
		if oldest <= window.Start {
			break
		}
		currentEnd = oldest
	}
	return all, nil
}

func sortInsiderTrades(trades []domain.InsiderTrade) {
	sort.Slice(trades, func(i, j int) bool {
		di, dj := trades[i].TransactionDate, trades[j].TransactionDate
		if di == "" {
			di = trades[i].FilingDate
		}
		if dj == "" {
			dj = trades[j].FilingDate
		}
		return di > dj
	})
}

// GetCompanyNews returns articles in [startDate, endDate] with the same
// uncovered-range fetching and backwards pagination as insider trades.
func (p *CachedProvider) GetCompanyNews(ctx context.Context, ticker, endDate, startDate string, limit int) ([]domain.CompanyNews, error) {
	if startDate == "" {
		fetched, err := p.client.FetchCompanyNews(ctx, ticker, endDate, startDate, limit)
		if err != nil {
			return nil, err
		}
		p.cache.AddNews(ticker, fetched)
		sort.Slice(fetched, func(i, j int) bool { return fetched[i].Date > fetched[j].Date })
		return fetched, nil
	}

	for _, gap := range p.cache.UncoveredNewsSpans(ticker, span{Start: startDate, End: endDate}) {
		fetched, err := p.paginateNews(ctx, ticker, gap, limit)
		if err != nil {
			return nil, err
		}
		p.cache.AddNews(ticker, fetched)
		p.cache.MarkNewsCovered(ticker, gap)
	}

	var filtered []domain.CompanyNews
	for _, n := range p.cache.News(ticker) {
		if n.Date >= startDate && n.Date <= endDate {
			filtered = append(filtered, n)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Date > filtered[j].Date })
	return filtered, nil
}

func (p *CachedProvider) paginateNews(ctx context.Context, ticker string, window span, limit int) ([]domain.CompanyNews, error) {
	var all []domain.CompanyNews
	currentEnd := window.End
	for {
		page, err := p.client.FetchCompanyNews(ctx, ticker, currentEnd, window.Start, limit)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		if len(page) < limit {
			break
		}
		oldest := page[0].Date
		for _, n := range page {
			if n.Date < oldest {
				oldest = n.Date
			}
		}
		if oldest <= window.Start {
			break
		}
		currentEnd = oldest
	}
	return all, nil
}

// GetMarketCap returns the market cap as of endDate, or nil when unknown.
func (p *CachedProvider) GetMarketCap(ctx context.Context, ticker, endDate string) (*float64, error) {
	metrics, err := p.GetFinancialMetrics(ctx, ticker, endDate, "ttm", 1)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve market cap for %s: %w", ticker, err)
	}
	if len(metrics) == 0 || metrics[0].MarketCap == nil {
		return nil, nil
	}
	return metrics[0].MarketCap, nil
}
