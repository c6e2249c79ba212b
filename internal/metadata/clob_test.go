package metadata

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"polymarket-tracker/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMarketsPagination(t *testing.T) {
	t.Parallel()

	pages := map[string]marketsPage{
		"": {
			Data: []marketWire{
				{ConditionID: "0xm1", Question: "Will the election be close?", Active: true},
				{ConditionID: "0xm2", Question: "Will BTC hit 100k?", Closed: true},
			},
			NextCursor: "AAA=",
		},
		"AAA=": {
			Data: []marketWire{
				{ConditionID: "0xm3", Question: "Will the Lakers win?", Active: true},
			},
			NextCursor: EndCursor,
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/markets" {
			http.NotFound(w, r)
			return
		}
		page, ok := pages[r.URL.Query().Get("next_cursor")]
		if !ok {
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("next_cursor"))
			http.Error(w, "bad cursor", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testLogger())

	markets, err := c.Markets(context.Background(), true)
	if err != nil {
		t.Fatalf("Markets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2 (closed filtered)", len(markets))
	}
	if markets[0].ConditionID != "0xm1" || markets[1].ConditionID != "0xm3" {
		t.Errorf("markets = %s, %s", markets[0].ConditionID, markets[1].ConditionID)
	}
	if markets[0].Category != types.CategoryPolitics {
		t.Errorf("category = %s, want %s", markets[0].Category, types.CategoryPolitics)
	}
	if markets[1].Category != types.CategorySports {
		t.Errorf("category = %s, want %s", markets[1].Category, types.CategorySports)
	}
}

func TestMarketsIncludesClosedWhenNotFiltering(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(marketsPage{
			Data: []marketWire{
				{ConditionID: "0xopen", Active: true},
				{ConditionID: "0xdone", Closed: true},
			},
			NextCursor: "",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testLogger())
	markets, err := c.Markets(context.Background(), false)
	if err != nil {
		t.Fatalf("Markets: %v", err)
	}
	if len(markets) != 2 {
		t.Errorf("got %d markets, want 2", len(markets))
	}
}

func TestMarketByConditionID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/market/0xcond" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(marketWire{
			ConditionID: "0xcond",
			Question:    "Will ETH flip BTC?",
			Tokens: []tokenWire{
				{TokenID: "tok-yes", Outcome: "Yes", Price: "0.12"},
				{TokenID: "tok-no", Outcome: "No", Price: "0.88"},
			},
			EndDateISO: "2026-12-31T00:00:00Z",
			Active:     true,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testLogger())
	md, err := c.Market(context.Background(), "0xcond")
	if err != nil {
		t.Fatalf("Market: %v", err)
	}
	if md.Category != types.CategoryCrypto {
		t.Errorf("category = %s, want %s", md.Category, types.CategoryCrypto)
	}
	if len(md.Tokens) != 2 || md.Tokens[0].Price == nil || md.Tokens[0].Price.String() != "0.12" {
		t.Errorf("tokens = %+v", md.Tokens)
	}
	if md.EndDate == nil || md.EndDate.Year() != 2026 {
		t.Errorf("end date = %v", md.EndDate)
	}
}

func TestMarketNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testLogger())
	if _, err := c.Market(context.Background(), "0xmissing"); err == nil {
		t.Fatal("expected error for missing market")
	}
}

func TestOrderbook(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token_id") != "tok-yes" {
			http.Error(w, "missing token_id", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"market": "0xcond",
			"asset_id": "tok-yes",
			"bids": [{"price": "0.55", "size": "1200"}, {"price": "0.54", "size": "800"}],
			"asks": [{"price": "0.57", "size": "950"}]
		}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testLogger())
	book, err := c.Orderbook(context.Background(), "tok-yes")
	if err != nil {
		t.Fatalf("Orderbook: %v", err)
	}
	if len(book.Bids) != 2 || len(book.Asks) != 1 {
		t.Fatalf("book depth = %d bids, %d asks", len(book.Bids), len(book.Asks))
	}
	if bb := book.BestBid(); bb == nil || bb.String() != "0.55" {
		t.Errorf("best bid = %v", bb)
	}
	if depth := book.TopOfBookDepth(); depth.String() != "2150" {
		t.Errorf("top of book depth = %s, want 2150", depth)
	}
}

func TestMidpointAndPrice(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/midpoint":
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"mid": "0.515"}`)
		case "/price":
			if r.URL.Query().Get("side") != "BUY" {
				t.Errorf("side = %q", r.URL.Query().Get("side"))
			}
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"price": "0.52"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testLogger())

	mid, err := c.Midpoint(context.Background(), "tok-yes")
	if err != nil || mid == nil || mid.String() != "0.515" {
		t.Errorf("Midpoint = %v, %v", mid, err)
	}

	price, err := c.Price(context.Background(), "tok-yes", types.BUY)
	if err != nil || price == nil || price.String() != "0.52" {
		t.Errorf("Price = %v, %v", price, err)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			io.WriteString(w, `"OK"`)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", testLogger())
	if !c.HealthCheck(context.Background()) {
		t.Error("expected healthy")
	}

	srv.Close()
	if c.HealthCheck(context.Background()) {
		t.Error("expected unhealthy after server shutdown")
	}
}
