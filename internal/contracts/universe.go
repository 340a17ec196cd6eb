package contracts

// Candidate is one row of the selection universe: ticker metadata joined
// with the most recent price and signal snapshot at or before the as-of
// date. Selection rules evaluate against these rows only.
type Candidate struct {
	Ticker    string  `json:"ticker"`
	Name      string  `json:"name,omitempty"`
	Sector    string  `json:"sector,omitempty"`
	Exchange  string  `json:"exchange,omitempty"`
	Country   string  `json:"country,omitempty"`
	MarketCap int64   `json:"market_cap"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`

	Signal SignalSnapshot `json:"signal"`
}

// DollarVolume is the latest close multiplied by the latest volume,
// used for liquidity floors.
func (c *Candidate) DollarVolume() float64 {
	return c.Close * float64(c.Volume)
}

// Selection is one selected constituent with its ranking score.
type Selection struct {
	Ticker    string  `json:"ticker"`
	Score     float64 `json:"score"`
	MarketCap int64   `json:"market_cap"`
}
