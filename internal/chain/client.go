// Package chain provides rate-limited, cached access to the Polygon
// blockchain with automatic failover between a primary and fallback RPC
// endpoint, plus the known-entity registry used by funding traces.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"polymarket-tracker/internal/ratelimit"
	"polymarket-tracker/pkg/types"
)

// USDC contract addresses on Polygon.
const (
	USDCBridged = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	USDCNative  = "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"
)

// TransferTopic is the ERC20 Transfer event signature hash.
var TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ErrRPCExhausted is returned when both endpoints fail after all retries.
var ErrRPCExhausted = errors.New("rpc retries exhausted on all endpoints")

const (
	defaultRateLimit  = 25.0 // req/s
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultCacheTTL   = 5 * time.Minute
	blockCacheTTL     = time.Hour // blocks are immutable

	primaryRecoveryInterval = 60 * time.Second

	cachePrefix = "polygon:"
)

// ClientConfig tunes the chain client.
type ClientConfig struct {
	RPCURL         string
	FallbackRPCURL string
	RateLimit      float64       // req/s, 0 = default 25
	MaxRetries     int           // 0 = default 3
	RetryDelay     time.Duration // 0 = default 1s
	CacheTTL       time.Duration // 0 = default 5m
}

// Client is a Polygon JSON-RPC client with a read-through Redis cache,
// token-bucket rate limiting, and retry/failover semantics: the primary
// endpoint is retried with exponential backoff; when it exhausts its
// retries it is marked unhealthy and the fallback takes over, with the
// primary re-probed after a cooldown.
type Client struct {
	primary  *ethclient.Client
	fallback *ethclient.Client // nil when no fallback is configured

	redis    *redis.Client // nil disables caching
	cacheTTL time.Duration

	limiter    *ratelimit.TokenBucket
	maxRetries int
	retryDelay time.Duration

	mu               sync.Mutex
	primaryHealthy   bool
	lastPrimaryCheck time.Time

	logger *slog.Logger
}

// NewClient dials the RPC endpoints and builds a client. rdb may be nil
// to disable caching (tests, one-off tools).
func NewClient(cfg ClientConfig, rdb *redis.Client, logger *slog.Logger) (*Client, error) {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	primary, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial primary rpc: %w", err)
	}
	var fallback *ethclient.Client
	if cfg.FallbackRPCURL != "" {
		fallback, err = ethclient.Dial(cfg.FallbackRPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial fallback rpc: %w", err)
		}
	}

	return &Client{
		primary:        primary,
		fallback:       fallback,
		redis:          rdb,
		cacheTTL:       cfg.CacheTTL,
		limiter:        ratelimit.NewTokenBucket(cfg.RateLimit, cfg.RateLimit),
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
		primaryHealthy: true,
		logger:         logger.With("component", "chain"),
	}, nil
}

// Close releases both RPC connections.
func (c *Client) Close() {
	c.primary.Close()
	if c.fallback != nil {
		c.fallback.Close()
	}
}

// ————————————————————————————————————————————————————————————————————————
// Retry / failover core
// ————————————————————————————————————————————————————————————————————————

func (c *Client) shouldTryPrimary() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primaryHealthy {
		return true
	}
	if time.Since(c.lastPrimaryCheck) > primaryRecoveryInterval {
		c.lastPrimaryCheck = time.Now()
		return true
	}
	return false
}

func (c *Client) markPrimary(healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.primaryHealthy = healthy
	if !healthy {
		c.lastPrimaryCheck = time.Now()
	}
}

// active returns the endpoint currently considered healthy, for calls
// that bypass the full retry loop.
func (c *Client) active() *ethclient.Client {
	c.mu.Lock()
	healthy := c.primaryHealthy
	c.mu.Unlock()
	if healthy || c.fallback == nil {
		return c.primary
	}
	return c.fallback
}

// execute runs an RPC call through the rate limiter with retry on the
// primary, then failover to the fallback, each with exponential backoff.
func execute[T any](ctx context.Context, c *Client, op string, call func(context.Context, *ethclient.Client) (T, error)) (T, error) {
	var zero T
	if err := c.limiter.Wait(ctx); err != nil {
		return zero, err
	}

	var lastErr error
	if c.shouldTryPrimary() {
		delay := c.retryDelay
		for attempt := 1; attempt <= c.maxRetries; attempt++ {
			result, err := call(ctx, c.primary)
			if err == nil {
				c.markPrimary(true)
				return result, nil
			}
			lastErr = err
			c.logger.Warn("primary rpc call failed",
				"op", op, "attempt", attempt, "max", c.maxRetries, "error", err)
			if attempt < c.maxRetries {
				select {
				case <-ctx.Done():
					return zero, ctx.Err()
				case <-time.After(delay):
				}
				delay *= 2
			}
		}
		c.markPrimary(false)
	}

	if c.fallback != nil {
		delay := c.retryDelay
		for attempt := 1; attempt <= c.maxRetries; attempt++ {
			result, err := call(ctx, c.fallback)
			if err == nil {
				c.logger.Info("fallback rpc succeeded", "op", op)
				return result, nil
			}
			lastErr = err
			c.logger.Warn("fallback rpc call failed",
				"op", op, "attempt", attempt, "max", c.maxRetries, "error", err)
			if attempt < c.maxRetries {
				select {
				case <-ctx.Done():
					return zero, ctx.Err()
				case <-time.After(delay):
				}
				delay *= 2
			}
		}
	}

	return zero, fmt.Errorf("%s: %w: %w", op, ErrRPCExhausted, lastErr)
}

// ————————————————————————————————————————————————————————————————————————
// Cache helpers
// ————————————————————————————————————————————————————————————————————————

func cacheKey(kind, addr string) string {
	return cachePrefix + kind + ":" + lower(addr)
}

func (c *Client) getCached(ctx context.Context, key string) (string, bool) {
	if c.redis == nil {
		return "", false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return "", false
	}
	return val, true
}

func (c *Client) setCached(ctx context.Context, key, value string, ttl time.Duration) {
	if c.redis == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.cacheTTL
	}
	if err := c.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Queries
// ————————————————————————————————————————————————————————————————————————

// TransactionCount returns the wallet's nonce (outgoing tx count).
func (c *Client) TransactionCount(ctx context.Context, address string) (int, error) {
	key := cacheKey("nonce", address)
	if cached, ok := c.getCached(ctx, key); ok {
		if n, err := strconv.Atoi(cached); err == nil {
			return n, nil
		}
	}

	nonce, err := execute(ctx, c, "transaction_count", func(ctx context.Context, ec *ethclient.Client) (uint64, error) {
		return ec.NonceAt(ctx, common.HexToAddress(address), nil)
	})
	if err != nil {
		return 0, err
	}

	c.setCached(ctx, key, strconv.FormatUint(nonce, 10), 0)
	return int(nonce), nil
}

// TransactionCounts batch-resolves nonces. Cache hits are answered
// synchronously; only misses go to the RPC, concurrently. Individual
// failures degrade to zero with a warning.
func (c *Client) TransactionCounts(ctx context.Context, addresses []string) map[string]int {
	results := make(map[string]int, len(addresses))
	var uncached []string

	for _, addr := range addresses {
		if cached, ok := c.getCached(ctx, cacheKey("nonce", addr)); ok {
			if n, err := strconv.Atoi(cached); err == nil {
				results[lower(addr)] = n
				continue
			}
		}
		uncached = append(uncached, addr)
	}

	if len(uncached) == 0 {
		return results
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, addr := range uncached {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			n, err := c.TransactionCount(ctx, addr)
			if err != nil {
				c.logger.Warn("batch nonce lookup failed", "address", addr, "error", err)
				n = 0
			}
			mu.Lock()
			results[lower(addr)] = n
			mu.Unlock()
		}(addr)
	}
	wg.Wait()

	return results
}

// Balance returns the wallet's MATIC balance in wei.
func (c *Client) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	key := cacheKey("balance", address)
	if cached, ok := c.getCached(ctx, key); ok {
		if d, err := decimal.NewFromString(cached); err == nil {
			return d, nil
		}
	}

	balance, err := execute(ctx, c, "balance", func(ctx context.Context, ec *ethclient.Client) (*big.Int, error) {
		return ec.BalanceAt(ctx, common.HexToAddress(address), nil)
	})
	if err != nil {
		return decimal.Zero, err
	}

	result := decimal.NewFromBigInt(balance, 0)
	c.setCached(ctx, key, result.String(), 0)
	return result, nil
}

// balanceOfSelector is the 4-byte selector of ERC20 balanceOf(address).
var balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

// TokenBalance returns an ERC20 balance in the token's base units via
// eth_call on the currently healthy endpoint.
func (c *Client) TokenBalance(ctx context.Context, address, tokenAddress string) (decimal.Decimal, error) {
	key := cacheKey("token:"+lower(tokenAddress), address)
	if cached, ok := c.getCached(ctx, key); ok {
		if d, err := decimal.NewFromString(cached); err == nil {
			return d, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}

	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(address).Bytes(), 32)...)

	token := common.HexToAddress(tokenAddress)
	out, err := c.active().CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("token balance call: %w", err)
	}

	result := decimal.NewFromBigInt(new(big.Int).SetBytes(out), 0)
	c.setCached(ctx, key, result.String(), 0)
	return result, nil
}

// BlockInfo is the cached subset of a block header.
type BlockInfo struct {
	Number    uint64 `json:"number"`
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// Block returns the header of the given block. Blocks are immutable, so
// they cache with a longer TTL than address-keyed results.
func (c *Client) Block(ctx context.Context, number uint64) (BlockInfo, error) {
	key := fmt.Sprintf("%sblock:%d", cachePrefix, number)
	if cached, ok := c.getCached(ctx, key); ok {
		var info BlockInfo
		if err := json.Unmarshal([]byte(cached), &info); err == nil {
			return info, nil
		}
	}

	header, err := execute(ctx, c, "block", func(ctx context.Context, ec *ethclient.Client) (*ethtypes.Header, error) {
		return ec.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	})
	if err != nil {
		return BlockInfo{}, err
	}

	info := BlockInfo{Number: header.Number.Uint64(), Timestamp: int64(header.Time)}
	if raw, err := json.Marshal(info); err == nil {
		c.setCached(ctx, key, string(raw), blockCacheTTL)
	}
	return info, nil
}

// FilterLogs runs eth_getLogs on the currently healthy endpoint.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	logs, err := c.active().FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}
	return logs, nil
}

// FirstTransaction resolves the wallet's earliest transaction. Finding it
// requires an indexer service; without one this returns nil after the
// nonce check, so callers treat wallet age as unknown.
func (c *Client) FirstTransaction(ctx context.Context, address string) (*types.Transaction, error) {
	key := cacheKey("first_tx", address)
	if cached, ok := c.getCached(ctx, key); ok {
		if cached == "null" {
			return nil, nil
		}
		var tx types.Transaction
		if err := json.Unmarshal([]byte(cached), &tx); err == nil {
			return &tx, nil
		}
	}

	nonce, err := c.TransactionCount(ctx, address)
	if err != nil {
		return nil, err
	}
	if nonce == 0 {
		c.setCached(ctx, key, "null", time.Minute)
		return nil, nil
	}

	c.logger.Warn("first transaction lookup requires an indexer service",
		"address", lower(address), "nonce", nonce)
	return nil, nil
}

// WalletInfo fans out the nonce, balance, and first-tx queries
// concurrently and aggregates the results.
func (c *Client) WalletInfo(ctx context.Context, address string) (types.WalletInfo, error) {
	var (
		wg                             sync.WaitGroup
		nonce                          int
		balance                        decimal.Decimal
		firstTx                        *types.Transaction
		nonceErr, balanceErr, firstErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		nonce, nonceErr = c.TransactionCount(ctx, address)
	}()
	go func() {
		defer wg.Done()
		balance, balanceErr = c.Balance(ctx, address)
	}()
	go func() {
		defer wg.Done()
		firstTx, firstErr = c.FirstTransaction(ctx, address)
	}()
	wg.Wait()

	if nonceErr != nil {
		return types.WalletInfo{}, nonceErr
	}
	if balanceErr != nil {
		return types.WalletInfo{}, balanceErr
	}
	if firstErr != nil {
		return types.WalletInfo{}, firstErr
	}

	return types.WalletInfo{
		Address:          lower(address),
		TransactionCount: nonce,
		BalanceWei:       balance,
		FirstTransaction: firstTx,
	}, nil
}

// HealthCheck reports whether an endpoint currently answers eth_blockNumber.
func (c *Client) HealthCheck(ctx context.Context) bool {
	_, err := execute(ctx, c, "block_number", func(ctx context.Context, ec *ethclient.Client) (uint64, error) {
		return ec.BlockNumber(ctx)
	})
	return err == nil
}
