package timing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fund-sim-lab/internal/dates"
)

func testSeries() []IndexPoint {
	return []IndexPoint{
		{Date: dates.MustParse("2024-01-01"), Close: 3000},
		{Date: dates.MustParse("2024-01-02"), Close: 3010},
		{Date: dates.MustParse("2024-01-03"), Close: 2990},
	}
}

func TestClient_Classify(t *testing.T) {
	var gotPath string
	var gotBody macdRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"points": []map[string]any{
				{"date": "2024-01-01", "txnType": "buy"},
				{"date": "2024-01-02", "txn_type": "sell"},
				{"date": "2024-01-03", "txnType": "HOLD"},
				{"date": "not-a-date", "txnType": "buy"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	cls, err := c.Classify(context.Background(), testSeries(), 0.8, 0.3)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if gotPath != "/api/quant/macd" {
		t.Errorf("path = %q, want /api/quant/macd", gotPath)
	}
	if gotBody.BuyPosition != 0.8 || gotBody.SellPosition != 0.3 {
		t.Errorf("positions = (%v, %v), want (0.8, 0.3)", gotBody.BuyPosition, gotBody.SellPosition)
	}
	if len(gotBody.Series) != 3 {
		t.Fatalf("series length = %d, want 3", len(gotBody.Series))
	}
	if gotBody.Series[0].Index != 0 || gotBody.Series[0].Date != "2024-01-01" || gotBody.Series[0].Val != 3000 {
		t.Errorf("series[0] = %+v", gotBody.Series[0])
	}

	if !cls.IsBuyDay(dates.MustParse("2024-01-01")) {
		t.Error("2024-01-01 should be a buy day")
	}
	if !cls.IsSellDay(dates.MustParse("2024-01-02")) {
		t.Error("2024-01-02 should be a sell day (snake_case spelling)")
	}
	if cls.IsBuyDay(dates.MustParse("2024-01-03")) || cls.IsSellDay(dates.MustParse("2024-01-03")) {
		t.Error("unknown transaction type should be ignored")
	}
	if len(cls.BuyDays) != 1 || len(cls.SellDays) != 1 {
		t.Errorf("day counts = (%d, %d), want (1, 1); unparseable dates must be skipped",
			len(cls.BuyDays), len(cls.SellDays))
	}
}

func TestClient_ClassifyHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Classify(context.Background(), testSeries(), 0.8, 0.3); err == nil {
		t.Fatal("expected an error on HTTP 502")
	}
}

func TestClient_ClassifyBadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Classify(context.Background(), testSeries(), 0.8, 0.3); err == nil {
		t.Fatal("expected an error on malformed JSON")
	}
}

func TestNewClient_TrimsBaseURL(t *testing.T) {
	c := NewClient("  http://quant.local/  ")
	if c.baseURL != "http://quant.local" {
		t.Errorf("baseURL = %q, want trimmed", c.baseURL)
	}
}

func TestClient_ClassifyUppercaseTxnType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"points": []map[string]any{
				{"date": "2024-01-01", "txnType": "BUY"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	cls, err := c.Classify(context.Background(), testSeries(), 0, 0)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !cls.IsBuyDay(dates.MustParse("2024-01-01")) {
		t.Error("transaction types should match case-insensitively")
	}
}
