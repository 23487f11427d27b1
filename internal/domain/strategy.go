package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Strategy tags. The params structs below form a closed variant; the tag
// only appears at the serialization boundary.
const (
	StrategyBuyAndHoldEqual = "buy_and_hold_equal"
	StrategyTopkSnapshot    = "auto_topk_snapshot"
	StrategyTopkTsTiming    = "auto_topk_ts_timing"
)

// Strategy parameter errors.
var (
	ErrUnknownStrategy    = errors.New("unknown strategy")
	ErrInvalidTopK        = errors.New("top_k must be >= 1")
	ErrInvalidRebalance   = errors.New("rebalance_every must be >= 1")
	ErrMissingReferIndex  = errors.New("refer_index_code is required")
	ErrInvalidSellUnit    = errors.New("sell_unit must be \"amount\" or \"fundPercent\"")
	ErrMissingQuantURL    = errors.New("quant_service_url is required when a macd point is set")
	ErrBuyAndHoldUniverse = errors.New("buy_and_hold_equal requires a non-empty fund universe")
)

// Sell units for the stop-profit overlay.
const (
	SellUnitAmount      = "amount"
	SellUnitFundPercent = "fundPercent"
)

// StrategyParams is the closed set of strategy configurations. Dispatch is
// by type switch, never by tag comparison.
type StrategyParams interface {
	Tag() string
	Validate() error

	// sealed restricts implementations to this package.
	sealed()
}

// BuyAndHoldEqualParams configures the equal-weight buy-and-hold strategy.
// It has no tunables; the universe and cash come from the run.
type BuyAndHoldEqualParams struct{}

func (BuyAndHoldEqualParams) Tag() string     { return StrategyBuyAndHoldEqual }
func (BuyAndHoldEqualParams) Validate() error { return nil }
func (BuyAndHoldEqualParams) sealed()         {}

// TopkSnapshotParams configures scored top-K snapshot rebalancing.
type TopkSnapshotParams struct {
	TopK           int `json:"top_k"`
	RebalanceEvery int `json:"rebalance_every"`

	// Weights is the linear scoring vector
	// [pos_percentile, dip5, dip20, magic5, magic20].
	// Nil or all-zero defaults to full weight on magic20.
	Weights []float64 `json:"weights,omitempty"`
}

func (TopkSnapshotParams) Tag() string { return StrategyTopkSnapshot }

func (p TopkSnapshotParams) Validate() error {
	if p.TopK < 1 {
		return ErrInvalidTopK
	}
	if p.RebalanceEvery < 1 {
		return ErrInvalidRebalance
	}
	return nil
}

func (TopkSnapshotParams) sealed() {}

// TopkTsTimingParams extends the snapshot strategy with a MACD timing
// overlay over a reference index and a portfolio-level stop-profit rule.
type TopkTsTimingParams struct {
	TopK           int       `json:"top_k"`
	RebalanceEvery int       `json:"rebalance_every"`
	Weights        []float64 `json:"weights,omitempty"`

	// ReferIndexCode is the index the timing oracle classifies.
	ReferIndexCode string `json:"refer_index_code"`

	// MACD thresholds in [0, 100]; nil disables that direction.
	SellMACDPoint *float64 `json:"sell_macd_point,omitempty"`
	BuyMACDPoint  *float64 `json:"buy_macd_point,omitempty"`

	// Stop-profit conditions.
	SHCompositeIndex float64 `json:"sh_composite_index"`
	FundPosition     float64 `json:"fund_position"` // invested %, 0..100
	SellAtTop        bool    `json:"sell_at_top"`
	SellNum          float64 `json:"sell_num"`
	SellUnit         string  `json:"sell_unit"` // amount | fundPercent
	ProfitRate       float64 `json:"profit_rate"` // cumulative return %, 0..100

	// BuyAmountPercent <= 100 is a percentage of remaining cash,
	// otherwise an absolute amount.
	BuyAmountPercent float64 `json:"buy_amount_percent"`

	QuantServiceURL string `json:"quant_service_url"`
}

func (TopkTsTimingParams) Tag() string { return StrategyTopkTsTiming }

func (p TopkTsTimingParams) Validate() error {
	if p.TopK < 1 {
		return ErrInvalidTopK
	}
	if p.RebalanceEvery < 1 {
		return ErrInvalidRebalance
	}
	if p.ReferIndexCode == "" {
		return ErrMissingReferIndex
	}
	if p.SellUnit != SellUnitAmount && p.SellUnit != SellUnitFundPercent {
		return ErrInvalidSellUnit
	}
	if (p.SellMACDPoint != nil || p.BuyMACDPoint != nil) && p.QuantServiceURL == "" {
		return ErrMissingQuantURL
	}
	return nil
}

func (TopkTsTimingParams) sealed() {}

// EncodeStrategyParams serializes params to (tag, JSON) for persistence.
func EncodeStrategyParams(p StrategyParams) (string, []byte, error) {
	if p == nil {
		return "", nil, ErrUnknownStrategy
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("encode strategy params: %w", err)
	}
	return p.Tag(), raw, nil
}

// DecodeStrategyParams reverses EncodeStrategyParams.
func DecodeStrategyParams(tag string, raw []byte) (StrategyParams, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch tag {
	case StrategyBuyAndHoldEqual:
		var p BuyAndHoldEqualParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", tag, err)
		}
		return p, nil
	case StrategyTopkSnapshot:
		var p TopkSnapshotParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", tag, err)
		}
		return p, nil
	case StrategyTopkTsTiming:
		var p TopkTsTimingParams
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", tag, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, tag)
	}
}
