package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"polymarket-tracker/pkg/types"
)

const (
	// DefaultSyncInterval is the delay between catalog refreshes.
	DefaultSyncInterval = 5 * time.Minute

	// DefaultCacheTTL bounds cache staleness if the sync loop dies.
	DefaultCacheTTL = 10 * time.Minute

	// DefaultKeyPrefix namespaces market entries in Redis.
	DefaultKeyPrefix = "polymarket:market:"
)

// SyncState tracks the synchronizer lifecycle.
type SyncState string

const (
	SyncStopped  SyncState = "stopped"
	SyncStarting SyncState = "starting"
	SyncSyncing  SyncState = "syncing"
	SyncIdle     SyncState = "idle"
	SyncStopping SyncState = "stopping"
	SyncError    SyncState = "error"
)

// SyncStats counts sync cycles and caches the last outcome.
type SyncStats struct {
	TotalSyncs       int           `json:"total_syncs"`
	SuccessfulSyncs  int           `json:"successful_syncs"`
	FailedSyncs      int           `json:"failed_syncs"`
	MarketsCached    int           `json:"markets_cached"`
	LastSyncTime     *time.Time    `json:"last_sync_time,omitempty"`
	LastSyncDuration time.Duration `json:"last_sync_duration"`
	LastError        string        `json:"last_error,omitempty"`
}

// StateCallback fires on every state transition.
type StateCallback func(SyncState)

// SyncCallback fires after each successful sync cycle.
type SyncCallback func(SyncStats)

// SyncConfig configures the market metadata synchronizer.
type SyncConfig struct {
	SyncInterval   time.Duration
	CacheTTL       time.Duration
	KeyPrefix      string
	OnStateChange  StateCallback
	OnSyncComplete SyncCallback
}

// Sync keeps the Polymarket market catalog warm in Redis. It fetches
// every active market on start, refreshes on an interval, and serves
// cache-first lookups with a REST fallback.
type Sync struct {
	redis     *redis.Client
	clob      *Client
	interval  time.Duration
	cacheTTL  time.Duration
	keyPrefix string
	onState   StateCallback
	onSync    SyncCallback
	logger    *slog.Logger

	mu    sync.Mutex
	state SyncState
	stats SyncStats

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSync creates a metadata synchronizer. Zero config fields take
// package defaults.
func NewSync(rdb *redis.Client, clob *Client, cfg SyncConfig, logger *slog.Logger) *Sync {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	return &Sync{
		redis:     rdb,
		clob:      clob,
		interval:  cfg.SyncInterval,
		cacheTTL:  cfg.CacheTTL,
		keyPrefix: cfg.KeyPrefix,
		onState:   cfg.OnStateChange,
		onSync:    cfg.OnSyncComplete,
		logger:    logger.With("component", "metadata_sync"),
		state:     SyncStopped,
	}
}

// State returns the current lifecycle state.
func (s *Sync) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the sync counters.
func (s *Sync) Stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Sync) setState(next SyncState) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	cb := s.onState
	s.mu.Unlock()

	if cb != nil && prev != next {
		cb(next)
	}
}

// Start performs a synchronous initial sync and then launches the
// background refresh loop. A failed initial sync leaves the service
// stopped and returns the error.
func (s *Sync) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != SyncStopped && s.state != SyncError {
		state := s.state
		s.mu.Unlock()
		s.logger.Warn("sync already running", "state", string(state))
		return nil
	}
	s.mu.Unlock()

	s.setState(SyncStarting)

	if err := s.syncAll(ctx); err != nil {
		s.setState(SyncError)
		return fmt.Errorf("initial market sync: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx)

	s.setState(SyncIdle)
	s.logger.Info("market metadata sync started", "interval", s.interval)
	return nil
}

// Stop cancels the background loop and waits for it to exit.
func (s *Sync) Stop() {
	s.mu.Lock()
	if s.state == SyncStopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.setState(SyncStopping)
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.setState(SyncStopped)
	s.logger.Info("market metadata sync stopped")
}

func (s *Sync) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.syncAll(ctx); err != nil {
				s.logger.Error("market sync failed", "error", err)
				// Stays in error state until the next interval succeeds.
			}
		}
	}
}

// syncAll fetches the full active-market catalog and caches every entry.
func (s *Sync) syncAll(ctx context.Context) error {
	s.setState(SyncSyncing)
	start := time.Now()

	s.mu.Lock()
	s.stats.TotalSyncs++
	s.mu.Unlock()

	markets, err := s.clob.Markets(ctx, true)
	if err != nil {
		s.mu.Lock()
		s.stats.FailedSyncs++
		s.stats.LastError = err.Error()
		s.mu.Unlock()
		s.setState(SyncError)
		return err
	}

	cached := 0
	for _, md := range markets {
		if err := s.cacheMarket(ctx, md); err != nil {
			s.logger.Warn("failed to cache market", "condition_id", md.ConditionID, "error", err)
			continue
		}
		cached++
	}

	now := time.Now()
	s.mu.Lock()
	s.stats.SuccessfulSyncs++
	s.stats.MarketsCached = cached
	s.stats.LastSyncTime = &now
	s.stats.LastSyncDuration = now.Sub(start)
	s.stats.LastError = ""
	cb := s.onSync
	stats := s.stats
	s.mu.Unlock()

	s.setState(SyncIdle)
	s.logger.Info("market catalog synced", "markets", cached, "duration", now.Sub(start))

	if cb != nil {
		cb(stats)
	}
	return nil
}

func (s *Sync) cacheMarket(ctx context.Context, md types.MarketMetadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, s.keyPrefix+md.ConditionID, raw, s.cacheTTL).Err()
}

// Market returns metadata for a condition ID, cache-first with a REST
// fallback. Returns nil when the market cannot be resolved.
func (s *Sync) Market(ctx context.Context, conditionID string) (*types.MarketMetadata, error) {
	raw, err := s.redis.Get(ctx, s.keyPrefix+conditionID).Result()
	if err == nil {
		var md types.MarketMetadata
		if jerr := json.Unmarshal([]byte(raw), &md); jerr == nil {
			return &md, nil
		}
		s.logger.Warn("corrupt cached market entry", "condition_id", conditionID)
	} else if err != redis.Nil {
		s.logger.Warn("market cache read failed", "condition_id", conditionID, "error", err)
	}

	md, err := s.clob.Market(ctx, conditionID)
	if err != nil {
		s.logger.Warn("market fetch failed", "condition_id", conditionID, "error", err)
		return nil, nil
	}
	if err := s.cacheMarket(ctx, md); err != nil {
		s.logger.Warn("failed to cache market", "condition_id", conditionID, "error", err)
	}
	return &md, nil
}

// MarketsByCategory scans the cache for markets in one category.
// Linear in the number of cached markets.
func (s *Sync) MarketsByCategory(ctx context.Context, category string) ([]types.MarketMetadata, error) {
	var results []types.MarketMetadata
	var cursor uint64

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan market cache: %w", err)
		}
		for _, key := range keys {
			raw, err := s.redis.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			var md types.MarketMetadata
			if err := json.Unmarshal([]byte(raw), &md); err != nil {
				continue
			}
			if md.Category == category {
				results = append(results, md)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return results, nil
}

// Invalidate removes a cached market, reporting whether it existed.
func (s *Sync) Invalidate(ctx context.Context, conditionID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.keyPrefix+conditionID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ForceSync refreshes the catalog outside the normal interval.
func (s *Sync) ForceSync(ctx context.Context) error {
	return s.syncAll(ctx)
}
