package contracts

import "time"

// DateFormat is the canonical day format used across the store and reports.
const DateFormat = "2006-01-02"

// Ticker is an equity listing. Rows are owned by the ingestion side;
// every time-series table references them by symbol.
type Ticker struct {
	Symbol    string `json:"ticker"`
	Name      string `json:"name,omitempty"`
	Sector    string `json:"sector,omitempty"`
	Exchange  string `json:"exchange,omitempty"`
	MarketCap int64  `json:"market_cap,omitempty"`
	Country   string `json:"country,omitempty"`
}

// PriceBar is one daily bar for a ticker. Unique per (ticker, date).
type PriceBar struct {
	Ticker string    `json:"ticker"`
	Date   time.Time `json:"date"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// SignalSnapshot holds the derived technical signals for one (ticker, date).
// A field is nil when the trailing price window ending at Date is too short
// to compute it; partial rows are normal near the start of a series.
// Recomputing from the same price history must reproduce a row exactly.
type SignalSnapshot struct {
	Ticker   string    `json:"ticker"`
	Date     time.Time `json:"date"`
	Ret1M    *float64  `json:"ret_1m"`
	Ret3M    *float64  `json:"ret_3m"`
	Ret6M    *float64  `json:"ret_6m"`
	RSI14    *float64  `json:"rsi_14"`
	ATR14    *float64  `json:"atr_14"`
	SMA50    *float64  `json:"sma50"`
	SMA200   *float64  `json:"sma200"`
	VolSurge *float64  `json:"vol_surge"`
	Beta60   *float64  `json:"beta_60"`
	MScore   *float64  `json:"m_score"`
	Breakout bool      `json:"breakout"`
}

// Complete reports whether every signal field could be computed,
// i.e. the trailing window covered the longest lookback (SMA-200).
func (s *SignalSnapshot) Complete() bool {
	return s.Ret1M != nil && s.Ret3M != nil && s.Ret6M != nil &&
		s.RSI14 != nil && s.ATR14 != nil && s.SMA50 != nil && s.SMA200 != nil &&
		s.VolSurge != nil && s.Beta60 != nil && s.MScore != nil
}
