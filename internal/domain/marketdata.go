package domain

import "encoding/json"

// Price is a daily OHLCV bar.
type Price struct {
	Open   float64 `json:"open"`
	Close  float64 `json:"close"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Volume float64 `json:"volume"`
	Time   string  `json:"time"` // ISO date (YYYY-MM-DD)
}

// FinancialMetrics is a snapshot of fundamental ratios for one report period.
type FinancialMetrics struct {
	Ticker                      string   `json:"ticker"`
	ReportPeriod                string   `json:"report_period"`
	Period                      string   `json:"period"`
	Currency                    string   `json:"currency"`
	MarketCap                   *float64 `json:"market_cap"`
	PriceToEarningsRatio        *float64 `json:"price_to_earnings_ratio"`
	PriceToBookRatio            *float64 `json:"price_to_book_ratio"`
	PriceToSalesRatio           *float64 `json:"price_to_sales_ratio"`
	ReturnOnEquity              *float64 `json:"return_on_equity"`
	NetMargin                   *float64 `json:"net_margin"`
	OperatingMargin             *float64 `json:"operating_margin"`
	RevenueGrowth               *float64 `json:"revenue_growth"`
	EarningsGrowth              *float64 `json:"earnings_growth"`
	BookValueGrowth             *float64 `json:"book_value_growth"`
	CurrentRatio                *float64 `json:"current_ratio"`
	DebtToEquity                *float64 `json:"debt_to_equity"`
	FreeCashFlowPerShare        *float64 `json:"free_cash_flow_per_share"`
	EarningsPerShare            *float64 `json:"earnings_per_share"`
	PayoutRatio                 *float64 `json:"payout_ratio"`
	EarningsPerShareGrowth      *float64 `json:"earnings_per_share_growth"`
	FreeCashFlowGrowth          *float64 `json:"free_cash_flow_growth"`
	OperatingIncomeGrowth       *float64 `json:"operating_income_growth"`
	EBITDAGrowth                *float64 `json:"ebitda_growth"`
	ReturnOnInvestedCapital     *float64 `json:"return_on_invested_capital"`
	OperatingCashFlowRatio      *float64 `json:"operating_cash_flow_ratio"`
	InterestCoverage            *float64 `json:"interest_coverage"`
	PriceToEarningsGrowthRatio  *float64 `json:"peg_ratio"`
	GrossMargin                 *float64 `json:"gross_margin"`
	AssetTurnover               *float64 `json:"asset_turnover"`
	InventoryTurnover           *float64 `json:"inventory_turnover"`
	ReceivablesTurnover         *float64 `json:"receivables_turnover"`
	DaysSalesOutstanding        *float64 `json:"days_sales_outstanding"`
	OperatingCycle              *float64 `json:"operating_cycle"`
	WorkingCapitalTurnover      *float64 `json:"working_capital_turnover"`
	QuickRatio                  *float64 `json:"quick_ratio"`
	CashRatio                   *float64 `json:"cash_ratio"`
	OperatingCashFlowPerShare   *float64 `json:"operating_cash_flow_per_share"`
	BookValuePerShare           *float64 `json:"book_value_per_share"`
	RevenuePerShare             *float64 `json:"revenue_per_share"`
	EnterpriseValueToEBITDARatio *float64 `json:"enterprise_value_to_ebitda_ratio"`
}

// LineItem is one report period's values for a requested set of financial
// statement line items. The upstream response shape is dynamic (only the
// requested items are present), so values are collected into a map.
type LineItem struct {
	Ticker       string             `json:"ticker"`
	ReportPeriod string             `json:"report_period"`
	Period       string             `json:"period"`
	Currency     string             `json:"currency"`
	Values       map[string]float64 `json:"-"`
}

// UnmarshalJSON captures the fixed fields and folds every other numeric field
// into Values.
func (li *LineItem) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	li.Values = make(map[string]float64)
	for key, val := range raw {
		switch key {
		case "ticker":
			_ = json.Unmarshal(val, &li.Ticker)
		case "report_period":
			_ = json.Unmarshal(val, &li.ReportPeriod)
		case "period":
			_ = json.Unmarshal(val, &li.Period)
		case "currency":
			_ = json.Unmarshal(val, &li.Currency)
		default:
			var f float64
			if err := json.Unmarshal(val, &f); err == nil {
				li.Values[key] = f
			}
		}
	}
	return nil
}

// MarshalJSON restores the flat upstream shape.
func (li LineItem) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(li.Values)+4)
	for k, v := range li.Values {
		out[k] = v
	}
	out["ticker"] = li.Ticker
	out["report_period"] = li.ReportPeriod
	out["period"] = li.Period
	out["currency"] = li.Currency
	return json.Marshal(out)
}

// Value returns a named line-item value if present.
func (li LineItem) Value(name string) (float64, bool) {
	v, ok := li.Values[name]
	return v, ok
}

// InsiderTrade is a single reported insider transaction.
type InsiderTrade struct {
	Ticker                   string   `json:"ticker"`
	Issuer                   string   `json:"issuer,omitempty"`
	Name                     string   `json:"name,omitempty"`
	Title                    string   `json:"title,omitempty"`
	IsBoardDirector          *bool    `json:"is_board_director,omitempty"`
	TransactionDate          string   `json:"transaction_date,omitempty"`
	TransactionShares        *float64 `json:"transaction_shares,omitempty"`
	TransactionPricePerShare *float64 `json:"transaction_price_per_share,omitempty"`
	TransactionValue         *float64 `json:"transaction_value,omitempty"`
	SharesOwnedBefore        *float64 `json:"shares_owned_before_transaction,omitempty"`
	SharesOwnedAfter         *float64 `json:"shares_owned_after_transaction,omitempty"`
	SecurityTitle            string   `json:"security_title,omitempty"`
	FilingDate               string   `json:"filing_date"`
}

// CompanyNews is a single news article with an optional sentiment label.
type CompanyNews struct {
	Ticker    string `json:"ticker"`
	Title     string `json:"title"`
	Author    string `json:"author,omitempty"`
	Source    string `json:"source,omitempty"`
	Date      string `json:"date"`
	URL       string `json:"url,omitempty"`
	Sentiment string `json:"sentiment,omitempty"` // positive, negative, neutral
}
