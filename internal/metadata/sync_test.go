package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"

	"polymarket-tracker/pkg/types"
)

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(marketsPage{
				Data: []marketWire{
					{ConditionID: "0xaaa", Question: "Will the election be contested?", Active: true},
				},
				NextCursor: EndCursor,
			})
		case "/market/0xbbb":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(marketWire{
				ConditionID: "0xbbb",
				Question:    "Will BTC close above 90k?",
				Active:      true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestSyncStartAndStop(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t)
	defer srv.Close()

	rdb, mock := redismock.NewClientMock()
	mock.Regexp().ExpectSet("polymarket:market:0xaaa", `.*`, DefaultCacheTTL).SetVal("OK")

	var states []SyncState
	var syncs int
	s := NewSync(rdb, NewClient(srv.URL, "", testLogger()), SyncConfig{
		SyncInterval:   time.Hour, // keep the loop quiet during the test
		OnStateChange:  func(st SyncState) { states = append(states, st) },
		OnSyncComplete: func(SyncStats) { syncs++ },
	}, testLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != SyncIdle {
		t.Errorf("state = %s, want %s", s.State(), SyncIdle)
	}
	if syncs != 1 {
		t.Errorf("sync callbacks = %d, want 1", syncs)
	}

	stats := s.Stats()
	if stats.TotalSyncs != 1 || stats.SuccessfulSyncs != 1 || stats.MarketsCached != 1 {
		t.Errorf("stats = %+v", stats)
	}

	s.Stop()
	if s.State() != SyncStopped {
		t.Errorf("state = %s, want %s", s.State(), SyncStopped)
	}

	// starting -> syncing -> idle -> stopping -> stopped
	want := []SyncState{SyncStarting, SyncSyncing, SyncIdle, SyncStopping, SyncStopped}
	if len(states) != len(want) {
		t.Fatalf("state transitions = %v", states)
	}
	for i, st := range want {
		if states[i] != st {
			t.Errorf("transition[%d] = %s, want %s", i, states[i], st)
		}
	}
}

func TestSyncStartFailsWhenCatalogUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	rdb, _ := redismock.NewClientMock()
	s := NewSync(rdb, NewClient(srv.URL, "", testLogger()), SyncConfig{}, testLogger())

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail on initial sync error")
	}
	if s.State() != SyncError {
		t.Errorf("state = %s, want %s", s.State(), SyncError)
	}
	if s.Stats().FailedSyncs != 1 {
		t.Errorf("failed syncs = %d, want 1", s.Stats().FailedSyncs)
	}
}

func TestMarketCacheHit(t *testing.T) {
	t.Parallel()

	cached := types.MarketMetadata{
		ConditionID: "0xcached",
		Question:    "Will it rain tomorrow?",
		Category:    types.CategoryOther,
	}
	raw, _ := json.Marshal(cached)

	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet("polymarket:market:0xcached").SetVal(string(raw))

	s := NewSync(rdb, NewClient("http://127.0.0.1:0", "", testLogger()), SyncConfig{}, testLogger())

	md, err := s.Market(context.Background(), "0xcached")
	if err != nil {
		t.Fatalf("Market: %v", err)
	}
	if md == nil || md.ConditionID != "0xcached" {
		t.Errorf("market = %+v", md)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestMarketFallbackFetch(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t)
	defer srv.Close()

	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet("polymarket:market:0xbbb").RedisNil()
	mock.Regexp().ExpectSet("polymarket:market:0xbbb", `.*`, DefaultCacheTTL).SetVal("OK")

	s := NewSync(rdb, NewClient(srv.URL, "", testLogger()), SyncConfig{}, testLogger())

	md, err := s.Market(context.Background(), "0xbbb")
	if err != nil {
		t.Fatalf("Market: %v", err)
	}
	if md == nil || md.Category != types.CategoryCrypto {
		t.Errorf("market = %+v", md)
	}
}

func TestMarketUnresolvable(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t)
	defer srv.Close()

	rdb, mock := redismock.NewClientMock()
	mock.ExpectGet("polymarket:market:0xmissing").RedisNil()

	s := NewSync(rdb, NewClient(srv.URL, "", testLogger()), SyncConfig{}, testLogger())

	md, err := s.Market(context.Background(), "0xmissing")
	if err != nil {
		t.Fatalf("Market: %v", err)
	}
	if md != nil {
		t.Errorf("expected nil for unresolvable market, got %+v", md)
	}
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	rdb, mock := redismock.NewClientMock()
	mock.ExpectDel("polymarket:market:0xgone").SetVal(1)
	mock.ExpectDel("polymarket:market:0xnever").SetVal(0)

	s := NewSync(rdb, NewClient("http://127.0.0.1:0", "", testLogger()), SyncConfig{}, testLogger())

	if ok, err := s.Invalidate(context.Background(), "0xgone"); err != nil || !ok {
		t.Errorf("Invalidate existing = %v, %v", ok, err)
	}
	if ok, err := s.Invalidate(context.Background(), "0xnever"); err != nil || ok {
		t.Errorf("Invalidate missing = %v, %v", ok, err)
	}
}
