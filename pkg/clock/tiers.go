package clock

import "time"

// TierTickers bundles the independent periodic tickers the scheduler
// drives: one per detection tier (L1 passive, L2 active, optional L3
// link). A nil field means that tier has no ticker, either because its
// interval is zero or the tier is disabled, matching the scheduler's
// own "nil detector, skip this tier" convention.
type TierTickers struct {
	L1, L2, L3 Ticker
}

// NewTierTickers creates one ticker per positive interval. Pass 0 for
// l3 when the link tier is disabled so its ticker is never created.
func NewTierTickers(clk Clock, l1, l2, l3 time.Duration) *TierTickers {
	t := &TierTickers{}
	if l1 > 0 {
		t.L1 = clk.NewTicker(l1)
	}
	if l2 > 0 {
		t.L2 = clk.NewTicker(l2)
	}
	if l3 > 0 {
		t.L3 = clk.NewTicker(l3)
	}
	return t
}
