package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestEncodeDecodeStrategyParams(t *testing.T) {
	sell := 60.0
	params := []StrategyParams{
		BuyAndHoldEqualParams{},
		TopkSnapshotParams{TopK: 5, RebalanceEvery: 10, Weights: []float64{0.2, 0, 0, 0, 0.8}},
		TopkTsTimingParams{
			TopK:             3,
			RebalanceEvery:   5,
			ReferIndexCode:   "1.000300",
			SellMACDPoint:    &sell,
			SHCompositeIndex: 3000,
			FundPosition:     50,
			SellAtTop:        true,
			SellNum:          2000,
			SellUnit:         SellUnitAmount,
			ProfitRate:       8,
			BuyAmountPercent: 100,
			QuantServiceURL:  "http://quant.local",
		},
	}

	for _, p := range params {
		tag, raw, err := EncodeStrategyParams(p)
		if err != nil {
			t.Fatalf("encode %T: %v", p, err)
		}
		if tag != p.Tag() {
			t.Errorf("tag = %q, want %q", tag, p.Tag())
		}
		back, err := DecodeStrategyParams(tag, raw)
		if err != nil {
			t.Fatalf("decode %T: %v", p, err)
		}
		if !reflect.DeepEqual(back, p) {
			t.Errorf("roundtrip %T: got %+v, want %+v", p, back, p)
		}
	}
}

func TestEncodeStrategyParams_Nil(t *testing.T) {
	if _, _, err := EncodeStrategyParams(nil); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("error = %v, want ErrUnknownStrategy", err)
	}
}

func TestDecodeStrategyParams_UnknownTag(t *testing.T) {
	if _, err := DecodeStrategyParams("martingale", []byte("{}")); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("error = %v, want ErrUnknownStrategy", err)
	}
}

func TestDecodeStrategyParams_EmptyRaw(t *testing.T) {
	p, err := DecodeStrategyParams(StrategyBuyAndHoldEqual, nil)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, ok := p.(BuyAndHoldEqualParams); !ok {
		t.Fatalf("params type = %T, want BuyAndHoldEqualParams", p)
	}
}

func TestTopkSnapshotParams_Validate(t *testing.T) {
	if err := (TopkSnapshotParams{TopK: 0, RebalanceEvery: 10}).Validate(); !errors.Is(err, ErrInvalidTopK) {
		t.Errorf("error = %v, want ErrInvalidTopK", err)
	}
	if err := (TopkSnapshotParams{TopK: 5, RebalanceEvery: 0}).Validate(); !errors.Is(err, ErrInvalidRebalance) {
		t.Errorf("error = %v, want ErrInvalidRebalance", err)
	}
	if err := (TopkSnapshotParams{TopK: 5, RebalanceEvery: 10}).Validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
}

func TestTopkTsTimingParams_Validate(t *testing.T) {
	sell := 60.0
	base := TopkTsTimingParams{
		TopK:           3,
		RebalanceEvery: 5,
		ReferIndexCode: "1.000300",
		SellUnit:       SellUnitFundPercent,
	}
	if err := base.Validate(); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}

	p := base
	p.ReferIndexCode = ""
	if err := p.Validate(); !errors.Is(err, ErrMissingReferIndex) {
		t.Errorf("error = %v, want ErrMissingReferIndex", err)
	}

	p = base
	p.SellUnit = "shares"
	if err := p.Validate(); !errors.Is(err, ErrInvalidSellUnit) {
		t.Errorf("error = %v, want ErrInvalidSellUnit", err)
	}

	p = base
	p.SellMACDPoint = &sell
	if err := p.Validate(); !errors.Is(err, ErrMissingQuantURL) {
		t.Errorf("error = %v, want ErrMissingQuantURL", err)
	}
	p.QuantServiceURL = "http://quant.local"
	if err := p.Validate(); err != nil {
		t.Errorf("params with quant URL rejected: %v", err)
	}
}
