package chain

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newCachedClient(t *testing.T) (*Client, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	c, err := NewClient(ClientConfig{
		RPCURL: "http://127.0.0.1:0", // never reached in cache-hit tests
	}, rdb, testLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, mock
}

func TestTransactionCountCacheHit(t *testing.T) {
	t.Parallel()
	c, mock := newCachedClient(t)

	mock.ExpectGet("polygon:nonce:0xabc0000000000000000000000000000000000001").SetVal("7")

	n, err := c.TransactionCount(context.Background(), "0xABC0000000000000000000000000000000000001")
	if err != nil {
		t.Fatalf("TransactionCount: %v", err)
	}
	if n != 7 {
		t.Errorf("nonce = %d, want 7", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestBalanceCacheHit(t *testing.T) {
	t.Parallel()
	c, mock := newCachedClient(t)

	mock.ExpectGet("polygon:balance:0xdef0000000000000000000000000000000000002").
		SetVal("1500000000000000000")

	bal, err := c.Balance(context.Background(), "0xdef0000000000000000000000000000000000002")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if bal.String() != "1500000000000000000" {
		t.Errorf("balance = %s", bal)
	}
}

func TestFirstTransactionNullCached(t *testing.T) {
	t.Parallel()
	c, mock := newCachedClient(t)

	mock.ExpectGet("polygon:first_tx:0xaaa0000000000000000000000000000000000003").SetVal("null")

	tx, err := c.FirstTransaction(context.Background(), "0xaaa0000000000000000000000000000000000003")
	if err != nil {
		t.Fatalf("FirstTransaction: %v", err)
	}
	if tx != nil {
		t.Errorf("expected nil first tx, got %+v", tx)
	}
}

func TestBlockCacheHit(t *testing.T) {
	t.Parallel()
	c, mock := newCachedClient(t)

	mock.ExpectGet("polygon:block:12345").SetVal(`{"number":12345,"timestamp":1700000000}`)

	info, err := c.Block(context.Background(), 12345)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if info.Number != 12345 || info.Timestamp != 1700000000 {
		t.Errorf("block = %+v", info)
	}
}

func TestTransactionCountsCacheOnly(t *testing.T) {
	t.Parallel()
	c, mock := newCachedClient(t)

	mock.ExpectGet("polygon:nonce:0x0000000000000000000000000000000000000001").SetVal("3")
	mock.ExpectGet("polygon:nonce:0x0000000000000000000000000000000000000002").SetVal("0")

	got := c.TransactionCounts(context.Background(), []string{
		"0x0000000000000000000000000000000000000001",
		"0x0000000000000000000000000000000000000002",
	})
	if got["0x0000000000000000000000000000000000000001"] != 3 {
		t.Errorf("nonce[1] = %d", got["0x0000000000000000000000000000000000000001"])
	}
	if got["0x0000000000000000000000000000000000000002"] != 0 {
		t.Errorf("nonce[2] = %d", got["0x0000000000000000000000000000000000000002"])
	}
}

func TestShouldTryPrimaryRecovery(t *testing.T) {
	t.Parallel()
	c, _ := newCachedClient(t)

	c.markPrimary(false)
	if c.shouldTryPrimary() {
		t.Error("unhealthy primary probed before cooldown")
	}

	// Age the last check past the recovery interval.
	c.mu.Lock()
	c.lastPrimaryCheck = time.Now().Add(-2 * primaryRecoveryInterval)
	c.mu.Unlock()

	if !c.shouldTryPrimary() {
		t.Error("primary not re-probed after cooldown")
	}
	// The probe window is consumed; the next check within the cooldown skips.
	if c.shouldTryPrimary() {
		t.Error("primary probed twice within one cooldown window")
	}
}
