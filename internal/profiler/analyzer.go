// Package profiler analyzes trader wallets on Polygon: fresh-wallet
// detection from nonce and age, balance snapshots, and USDC funding
// chain tracing back to known entities.
package profiler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"polymarket-tracker/internal/chain"
	"polymarket-tracker/pkg/types"
)

const (
	// DefaultFreshThreshold is the maximum nonce for a fresh wallet.
	DefaultFreshThreshold = 5

	// DefaultProfileTTL is how long profiles stay cached.
	DefaultProfileTTL = 5 * time.Minute

	// maxFreshAgeHours bounds wallet age for freshness.
	maxFreshAgeHours = 48.0

	profileCachePrefix = "wallet_profile:"
)

// Analyzer builds wallet profiles from chain data with Redis caching.
type Analyzer struct {
	client         *chain.Client
	redis          *redis.Client
	freshThreshold int
	cacheTTL       time.Duration
	usdcAddress    string
	logger         *slog.Logger
}

// AnalyzerConfig tunes the analyzer. Zero values take defaults.
type AnalyzerConfig struct {
	FreshThreshold int
	CacheTTL       time.Duration
	USDCAddress    string
}

// NewAnalyzer creates a wallet analyzer. rdb may be nil to disable
// profile caching.
func NewAnalyzer(client *chain.Client, rdb *redis.Client, cfg AnalyzerConfig, logger *slog.Logger) *Analyzer {
	if cfg.FreshThreshold <= 0 {
		cfg.FreshThreshold = DefaultFreshThreshold
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultProfileTTL
	}
	if cfg.USDCAddress == "" {
		cfg.USDCAddress = chain.USDCNative
	}
	return &Analyzer{
		client:         client,
		redis:          rdb,
		freshThreshold: cfg.FreshThreshold,
		cacheTTL:       cfg.CacheTTL,
		usdcAddress:    cfg.USDCAddress,
		logger:         logger.With("component", "profiler"),
	}
}

func (a *Analyzer) cacheKey(address string) string {
	return profileCachePrefix + strings.ToLower(address)
}

func (a *Analyzer) cachedProfile(ctx context.Context, address string) *types.WalletProfile {
	if a.redis == nil {
		return nil
	}
	raw, err := a.redis.Get(ctx, a.cacheKey(address)).Result()
	if err != nil {
		if err != redis.Nil {
			a.logger.Warn("profile cache read failed", "address", address, "error", err)
		}
		return nil
	}
	var p types.WalletProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		a.logger.Warn("corrupt cached profile", "address", address, "error", err)
		return nil
	}
	return &p
}

func (a *Analyzer) cacheProfile(ctx context.Context, p types.WalletProfile) {
	if a.redis == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		a.logger.Warn("profile marshal failed", "address", p.Address, "error", err)
		return
	}
	if err := a.redis.Set(ctx, a.cacheKey(p.Address), raw, a.cacheTTL).Err(); err != nil {
		a.logger.Warn("profile cache write failed", "address", p.Address, "error", err)
	}
}

// Analyze builds a full profile for a wallet: nonce, first-seen age,
// MATIC and USDC balances, and the freshness verdict. Results are
// cached; forceRefresh bypasses the cache.
func (a *Analyzer) Analyze(ctx context.Context, address string, forceRefresh bool) (types.WalletProfile, error) {
	address = strings.ToLower(address)

	if !forceRefresh {
		if cached := a.cachedProfile(ctx, address); cached != nil {
			a.logger.Debug("using cached profile", "address", address)
			return *cached, nil
		}
	}

	info, err := a.client.WalletInfo(ctx, address)
	if err != nil {
		return types.WalletProfile{}, fmt.Errorf("wallet info %s: %w", address, err)
	}

	// USDC balance failure degrades to zero rather than failing the
	// whole analysis.
	usdcBalance, err := a.client.TokenBalance(ctx, address, a.usdcAddress)
	if err != nil {
		a.logger.Warn("failed to get USDC balance", "address", address, "error", err)
		usdcBalance = decimal.Zero
	}

	var firstSeen *time.Time
	var ageHours *float64
	if info.FirstTransaction != nil {
		ts := info.FirstTransaction.Timestamp
		firstSeen = &ts
		age := time.Since(ts).Hours()
		ageHours = &age
	}

	profile := types.WalletProfile{
		Address:        address,
		Nonce:          info.TransactionCount,
		FirstSeen:      firstSeen,
		AgeHours:       ageHours,
		IsFresh:        a.isFresh(info.TransactionCount, ageHours),
		MaticBalance:   info.BalanceWei,
		USDCBalance:    usdcBalance,
		AnalyzedAt:     time.Now().UTC(),
		FreshThreshold: a.freshThreshold,
	}

	a.cacheProfile(ctx, profile)
	return profile, nil
}

// isFresh applies the freshness rule: nonce below the threshold, and
// age either unknown or within 48 hours.
func (a *Analyzer) isFresh(nonce int, ageHours *float64) bool {
	if nonce >= a.freshThreshold {
		return false
	}
	return ageHours == nil || *ageHours <= maxFreshAgeHours
}

// IsFresh is a convenience wrapper returning only the freshness verdict.
func (a *Analyzer) IsFresh(ctx context.Context, address string) (bool, error) {
	profile, err := a.Analyze(ctx, address, false)
	if err != nil {
		return false, err
	}
	return profile.IsFresh, nil
}

// AnalyzeBatch profiles wallets concurrently. Failed analyses are
// logged and dropped from the result map.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, addresses []string, forceRefresh bool) map[string]types.WalletProfile {
	results := make(map[string]types.WalletProfile, len(addresses))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, addr := range addresses {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			profile, err := a.Analyze(ctx, addr, forceRefresh)
			if err != nil {
				a.logger.Warn("failed to analyze wallet", "address", addr, "error", err)
				return
			}
			mu.Lock()
			results[strings.ToLower(addr)] = profile
			mu.Unlock()
		}(addr)
	}
	wg.Wait()
	return results
}

// FreshWallets filters addresses down to those profiling as fresh.
func (a *Analyzer) FreshWallets(ctx context.Context, addresses []string) []string {
	profiles := a.AnalyzeBatch(ctx, addresses, false)
	var fresh []string
	for addr, p := range profiles {
		if p.IsFresh {
			fresh = append(fresh, addr)
		}
	}
	return fresh
}
