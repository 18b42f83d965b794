package marketdata

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hedgeworks/hedged/internal/domain"
)

// Cache holds upstream results keyed by ticker. Inserts merge by a per-type
// unique key so repeated fetches of overlapping ranges never duplicate rows.
// Alongside the rows it tracks which date ranges have actually been fetched,
// so a range query can tell cached-and-complete apart from cached-but-sparse.
// It is an owned component of the provider (not a package global) so tests
// can reset it freely.
type Cache struct {
	mu            sync.RWMutex
	prices        map[string][]domain.Price
	metrics       map[string][]domain.FinancialMetrics
	lineItems     map[string][]domain.LineItem
	insiderTrades map[string][]domain.InsiderTrade
	news          map[string][]domain.CompanyNews

	priceSpans map[string][]span
	tradeSpans map[string][]span
	newsSpans  map[string][]span
	// metricSpans is keyed by "ticker|period"; a span with empty Start means
	// the fetch exhausted upstream history below its End.
	metricSpans map[string]span
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		prices:        make(map[string][]domain.Price),
		metrics:       make(map[string][]domain.FinancialMetrics),
		lineItems:     make(map[string][]domain.LineItem),
		insiderTrades: make(map[string][]domain.InsiderTrade),
		news:          make(map[string][]domain.CompanyNews),
		priceSpans:    make(map[string][]span),
		tradeSpans:    make(map[string][]span),
		newsSpans:     make(map[string][]span),
		metricSpans:   make(map[string]span),
	}
}

// mergeByKey appends items whose key is not yet present, preserving existing
// order. Generic over the cached record types.
func mergeByKey[T any](existing, incoming []T, key func(T) string) []T {
	seen := make(map[string]bool, len(existing))
	for _, item := range existing {
		seen[key(item)] = true
	}
	merged := existing
	for _, item := range incoming {
		if k := key(item); !seen[k] {
			seen[k] = true
			merged = append(merged, item)
		}
	}
	return merged
}

// Prices returns the cached bars for a ticker (nil when absent).
func (c *Cache) Prices(ticker string) []domain.Price {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prices[ticker]
}

// AddPrices merges bars into the cache, keyed by bar time.
func (c *Cache) AddPrices(ticker string, data []domain.Price) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[ticker] = mergeByKey(c.prices[ticker], data, func(p domain.Price) string { return p.Time })
}

// UncoveredPriceSpans returns the parts of want no prior fetch has covered.
func (c *Cache) UncoveredPriceSpans(ticker string, want span) []span {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uncoveredSpans(c.priceSpans[ticker], want)
}

// MarkPricesCovered records that a range has been fetched, bars or not;
// weekends and holidays legitimately produce no bars.
func (c *Cache) MarkPricesCovered(ticker string, s span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.priceSpans[ticker] = addCoveredSpan(c.priceSpans[ticker], s)
}

// UncoveredTradeSpans returns the parts of want no insider-trade fetch has
// covered.
func (c *Cache) UncoveredTradeSpans(ticker string, want span) []span {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uncoveredSpans(c.tradeSpans[ticker], want)
}

// MarkTradesCovered records a fully paginated insider-trade range.
func (c *Cache) MarkTradesCovered(ticker string, s span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tradeSpans[ticker] = addCoveredSpan(c.tradeSpans[ticker], s)
}

// UncoveredNewsSpans returns the parts of want no news fetch has covered.
func (c *Cache) UncoveredNewsSpans(ticker string, want span) []span {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uncoveredSpans(c.newsSpans[ticker], want)
}

// MarkNewsCovered records a fully paginated news range.
func (c *Cache) MarkNewsCovered(ticker string, s span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newsSpans[ticker] = addCoveredSpan(c.newsSpans[ticker], s)
}

// MetricsCoverage returns the report-period window a prior metrics fetch
// guaranteed complete for a ticker and period, if any.
func (c *Cache) MetricsCoverage(ticker, period string) (span, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.metricSpans[ticker+"|"+period]
	return s, ok
}

// MarkMetricsCovered records the window a metrics fetch guaranteed complete.
// Overlapping windows merge; of two disjoint windows the more recent wins,
// because truncated fetches leave an unknown gap between them.
func (c *Cache) MarkMetricsCovered(ticker, period string, s span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := ticker + "|" + period
	old, ok := c.metricSpans[key]
	if !ok {
		c.metricSpans[key] = s
		return
	}
	overlap := (old.Start == "" || old.Start <= s.End) && (s.Start == "" || s.Start <= old.End)
	if overlap {
		merged := old
		if s.Start == "" || (merged.Start != "" && s.Start < merged.Start) {
			merged.Start = s.Start
		}
		if s.End > merged.End {
			merged.End = s.End
		}
		c.metricSpans[key] = merged
		return
	}
	if s.End > old.End {
		c.metricSpans[key] = s
	}
}

// FinancialMetrics returns cached metric snapshots for a ticker.
func (c *Cache) FinancialMetrics(ticker string) []domain.FinancialMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics[ticker]
}

// AddFinancialMetrics merges metric snapshots, keyed by report period.
func (c *Cache) AddFinancialMetrics(ticker string, data []domain.FinancialMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics[ticker] = mergeByKey(c.metrics[ticker], data, func(m domain.FinancialMetrics) string { return m.ReportPeriod })
}

// LineItems returns cached line items for a ticker.
func (c *Cache) LineItems(ticker string) []domain.LineItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lineItems[ticker]
}

// AddLineItems merges line items, keyed by report period.
func (c *Cache) AddLineItems(ticker string, data []domain.LineItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lineItems[ticker] = mergeByKey(c.lineItems[ticker], data, func(li domain.LineItem) string { return li.ReportPeriod })
}

// InsiderTrades returns cached insider trades for a ticker.
func (c *Cache) InsiderTrades(ticker string) []domain.InsiderTrade {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.insiderTrades[ticker]
}

// AddInsiderTrades merges trades, keyed by filing date plus filer name and
// share delta (several filings can share a date).
func (c *Cache) AddInsiderTrades(ticker string, data []domain.InsiderTrade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insiderTrades[ticker] = mergeByKey(c.insiderTrades[ticker], data, insiderTradeKey)
}

func insiderTradeKey(t domain.InsiderTrade) string {
	shares := 0.0
	if t.TransactionShares != nil {
		shares = *t.TransactionShares
	}
	return fmt.Sprintf("%s|%s|%f", t.FilingDate, t.Name, shares)
}

// News returns cached news for a ticker.
func (c *Cache) News(ticker string) []domain.CompanyNews {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.news[ticker]
}

// AddNews merges articles, keyed by date and title.
func (c *Cache) AddNews(ticker string, data []domain.CompanyNews) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.news[ticker] = mergeByKey(c.news[ticker], data, func(n domain.CompanyNews) string { return n.Date + "|" + n.Title })
}

// Reset drops everything. Used by tests.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices = make(map[string][]domain.Price)
	c.metrics = make(map[string][]domain.FinancialMetrics)
	c.lineItems = make(map[string][]domain.LineItem)
	c.insiderTrades = make(map[string][]domain.InsiderTrade)
	c.news = make(map[string][]domain.CompanyNews)
	c.priceSpans = make(map[string][]span)
	c.tradeSpans = make(map[string][]span)
	c.newsSpans = make(map[string][]span)
	c.metricSpans = make(map[string]span)
}

// snapshot is the on-disk representation of the cache.
type snapshot struct {
	Prices        map[string][]domain.Price            `msgpack:"prices"`
	Metrics       map[string][]domain.FinancialMetrics `msgpack:"metrics"`
	LineItems     map[string][]domain.LineItem         `msgpack:"line_items"`
	InsiderTrades map[string][]domain.InsiderTrade     `msgpack:"insider_trades"`
	News          map[string][]domain.CompanyNews      `msgpack:"news"`
	PriceSpans    map[string][]span                    `msgpack:"price_spans"`
	TradeSpans    map[string][]span                    `msgpack:"trade_spans"`
	NewsSpans     map[string][]span                    `msgpack:"news_spans"`
	MetricSpans   map[string]span                      `msgpack:"metric_spans"`
}

// SaveSnapshot persists the cache to path so restarts start warm.
// The write goes through a temp file and rename to stay crash-safe.
func (c *Cache) SaveSnapshot(path string) error {
	c.mu.RLock()
	snap := snapshot{
		Prices:        c.prices,
		Metrics:       c.metrics,
		LineItems:     c.lineItems,
		InsiderTrades: c.insiderTrades,
		News:          c.news,
		PriceSpans:    c.priceSpans,
		TradeSpans:    c.tradeSpans,
		NewsSpans:     c.newsSpans,
		MetricSpans:   c.metricSpans,
	}
	data, err := msgpack.Marshal(&snap)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode cache snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move cache snapshot into place: %w", err)
	}
	return nil
}

// LoadSnapshot restores a previously saved cache. A missing file is not an
// error; a corrupt one is reported and the cache left empty.
func (c *Cache) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache snapshot: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode cache snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.Prices != nil {
		c.prices = snap.Prices
	}
	if snap.Metrics != nil {
		c.metrics = snap.Metrics
	}
	if snap.LineItems != nil {
		c.lineItems = snap.LineItems
	}
	if snap.InsiderTrades != nil {
		c.insiderTrades = snap.InsiderTrades
	}
	if snap.News != nil {
		c.news = snap.News
	}
	// Snapshots written before range tracking leave the span maps empty, so
	// their data is refetched once before it is trusted as complete.
	if snap.PriceSpans != nil {
		c.priceSpans = snap.PriceSpans
	}
	if snap.TradeSpans != nil {
		c.tradeSpans = snap.TradeSpans
	}
	if snap.NewsSpans != nil {
		c.newsSpans = snap.NewsSpans
	}
	if snap.MetricSpans != nil {
		c.metricSpans = snap.MetricSpans
	}
	return nil
}
