// Package pipeline is the supervisor that wires the tracker together.
//
// The trade feed publishes every normalized trade to the event bus.
// Two consumer groups read the bus independently: the detect stage
// profiles the wallet, runs the per-trade detectors, scores the trade,
// and pushes alerts through the dispatcher; the sniper stage records
// market entries for the periodic clustering pass. Each stage acks only
// on success, retries a bounded number of times, then dead-letters the
// entry. Stranded pending entries are reclaimed on a timer.
//
// Lifecycle: New() → Start() → [runs until signal] → Stop()
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-tracker/internal/alerter"
	"polymarket-tracker/internal/bus"
	"polymarket-tracker/internal/detector"
	"polymarket-tracker/internal/health"
	"polymarket-tracker/internal/metadata"
	"polymarket-tracker/internal/metrics"
	"polymarket-tracker/internal/profiler"
	"polymarket-tracker/internal/storage"
	"polymarket-tracker/internal/stream"
	"polymarket-tracker/pkg/types"
)

const (
	// GroupDetect consumes trades for profiling, detection, and scoring.
	GroupDetect = "detectors"

	// GroupSniper consumes trades to track early market entries.
	GroupSniper = "snipers"

	// FeedStream is the health monitor name for the WebSocket feed.
	FeedStream = "trade_feed"

	defaultSniperInterval  = 5 * time.Minute
	defaultMaxAttempts     = 3
	defaultReadBatch       = 16
	defaultClaimInterval   = 30 * time.Second
	defaultPendingIdle     = time.Minute
	defaultCleanupInterval = 24 * time.Hour
	retryBackoff           = 500 * time.Millisecond
)

// Config tunes the supervisor. Zero values take defaults.
type Config struct {
	Stream         stream.Config
	AlertThreshold float64
	SniperInterval time.Duration
	MaxAttempts    int
	ReadBatch      int64
	ClaimInterval  time.Duration
	PendingIdle    time.Duration
}

// Deps are the wired components. Tracer, CLOB, Store, and Metrics may
// be nil; the corresponding steps are skipped.
type Deps struct {
	Bus        *bus.Bus
	Analyzer   *profiler.Analyzer
	Tracer     *profiler.Tracer
	Fresh      *detector.FreshWalletDetector
	Size       *detector.SizeAnomalyDetector
	Sniper     *detector.SniperDetector
	Scorer     *detector.Scorer
	Metadata   *metadata.Sync
	CLOB       *metadata.Client
	Formatter  *alerter.Formatter
	Dispatcher *alerter.Dispatcher
	History    *alerter.History
	Store      *storage.Store
	Monitor    *health.Monitor
	Metrics    *metrics.Registry
}

// Pipeline owns the stage goroutines and their shared lifecycle.
type Pipeline struct {
	cfg    Config
	deps   Deps
	feed   *stream.Handler
	logger *slog.Logger

	// marketFirstSeen approximates market creation time from the first
	// trade observed per market; the REST catalog carries no creation
	// timestamp. Protected by marketMu.
	marketMu        sync.Mutex
	marketFirstSeen map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the supervisor and builds the trade feed handler around it.
func New(cfg Config, deps Deps, logger *slog.Logger) *Pipeline {
	if cfg.SniperInterval <= 0 {
		cfg.SniperInterval = defaultSniperInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.ReadBatch <= 0 {
		cfg.ReadBatch = defaultReadBatch
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = defaultClaimInterval
	}
	if cfg.PendingIdle <= 0 {
		cfg.PendingIdle = defaultPendingIdle
	}

	p := &Pipeline{
		cfg:             cfg,
		deps:            deps,
		logger:          logger.With("component", "pipeline"),
		marketFirstSeen: make(map[string]time.Time),
	}

	streamCfg := cfg.Stream
	userCallback := streamCfg.OnStateChange
	streamCfg.OnStateChange = func(state stream.ConnectionState) {
		p.onFeedState(state)
		if userCallback != nil {
			userCallback(state)
		}
	}
	p.feed = stream.NewHandler(streamCfg, p.publishTrade, deps.Metrics, logger)
	return p
}

// Feed returns the trade feed handler, for status introspection.
func (p *Pipeline) Feed() *stream.Handler { return p.feed }

// Start runs the initial metadata sync, creates the consumer groups,
// and launches every stage goroutine. A failed initial sync fails Start.
func (p *Pipeline) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	if p.deps.Metadata != nil {
		if err := p.deps.Metadata.Start(p.ctx); err != nil {
			return fmt.Errorf("metadata sync start: %w", err)
		}
	}

	for _, group := range []string{GroupDetect, GroupSniper} {
		if _, err := p.deps.Bus.EnsureGroup(p.ctx, group, "0"); err != nil {
			return fmt.Errorf("ensure group %s: %w", group, err)
		}
	}

	if p.deps.Monitor != nil {
		p.deps.Monitor.RegisterStream(FeedStream)
		p.deps.Monitor.RegisterStream(GroupDetect)
		p.deps.Monitor.RegisterStream(GroupSniper)
		p.deps.Monitor.Start()
	}

	p.spawn(func() {
		if err := p.feed.Run(p.ctx); err != nil && p.ctx.Err() == nil {
			p.logger.Error("trade feed terminated", "error", err)
		}
	})
	p.spawn(func() { p.consumeLoop(GroupDetect, "detect-1", p.handleDetect) })
	p.spawn(func() { p.consumeLoop(GroupSniper, "sniper-1", p.handleSniper) })
	p.spawn(func() { p.claimLoop(GroupDetect, "detect-1", p.handleDetect) })
	p.spawn(func() { p.claimLoop(GroupSniper, "sniper-1", p.handleSniper) })
	p.spawn(func() { p.sniperLoop() })
	p.spawn(func() { p.cleanupLoop() })

	p.logger.Info("pipeline started")
	return nil
}

// Stop cancels every stage, closes the feed, and waits for in-flight
// work to drain.
func (p *Pipeline) Stop() {
	p.logger.Info("pipeline stopping")
	if p.cancel != nil {
		p.cancel()
	}
	_ = p.feed.Close()
	p.wg.Wait()

	if p.deps.Metadata != nil {
		p.deps.Metadata.Stop()
	}
	if p.deps.Monitor != nil {
		p.deps.Monitor.Stop()
	}
	p.logger.Info("pipeline stopped")
}

func (p *Pipeline) spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// ————————————————————————————————————————————————————————————————————————
// Ingest
// ————————————————————————————————————————————————————————————————————————

// publishTrade is the feed callback: every trade goes onto the bus.
func (p *Pipeline) publishTrade(ctx context.Context, ev types.TradeEvent) error {
	if _, err := p.deps.Bus.Publish(ctx, ev); err != nil {
		if p.deps.Metrics != nil {
			p.deps.Metrics.StageErrors.WithLabelValues(FeedStream).Inc()
		}
		return fmt.Errorf("publish trade %s: %w", ev.TradeID, err)
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.EventsPublished.Inc()
	}
	if p.deps.Monitor != nil {
		p.deps.Monitor.RecordEvent(FeedStream)
	}
	return nil
}

func (p *Pipeline) onFeedState(state stream.ConnectionState) {
	if p.deps.Monitor == nil {
		return
	}
	switch state {
	case stream.StateConnected:
		p.deps.Monitor.SetStreamConnected(FeedStream)
	case stream.StateDisconnected, stream.StateReconnecting:
		p.deps.Monitor.SetStreamDisconnected(FeedStream, p.feed.Stats().LastError)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Stage loops
// ————————————————————————————————————————————————————————————————————————

type entryHandler func(context.Context, bus.Entry) error

func (p *Pipeline) consumeLoop(group, consumer string, handle entryHandler) {
	logger := p.logger.With("stage", group)
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		entries, err := p.deps.Bus.Read(p.ctx, group, consumer, p.cfg.ReadBatch)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			logger.Error("bus read failed", "error", err)
			if p.deps.Metrics != nil {
				p.deps.Metrics.StageErrors.WithLabelValues(group).Inc()
			}
			if !sleepCtx(p.ctx, time.Second) {
				return
			}
			continue
		}

		for _, entry := range entries {
			p.process(group, entry, handle)
		}
		p.reportLag(group)
	}
}

// claimLoop takes over pending entries abandoned by dead consumers.
func (p *Pipeline) claimLoop(group, consumer string, handle entryHandler) {
	ticker := time.NewTicker(p.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			entries, err := p.deps.Bus.Claim(p.ctx, group, consumer, p.cfg.PendingIdle, p.cfg.ReadBatch)
			if err != nil {
				if p.ctx.Err() == nil {
					p.logger.Warn("claim failed", "stage", group, "error", err)
				}
				continue
			}
			if len(entries) > 0 {
				p.logger.Info("reclaimed pending entries", "stage", group, "count", len(entries))
			}
			for _, entry := range entries {
				p.process(group, entry, handle)
			}
		}
	}
}

// process runs one entry through its handler with bounded retries.
// Success acks; exhausted retries dead-letter. Entries interrupted by
// shutdown stay pending for redelivery.
func (p *Pipeline) process(group string, entry bus.Entry, handle entryHandler) {
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		lastErr = handle(p.ctx, entry)
		if lastErr == nil {
			if _, err := p.deps.Bus.Ack(p.ctx, group, entry.ID); err != nil && p.ctx.Err() == nil {
				p.logger.Warn("ack failed", "stage", group, "entry", entry.ID, "error", err)
			}
			if p.deps.Monitor != nil {
				p.deps.Monitor.RecordEvent(group)
			}
			if p.deps.Metrics != nil {
				p.deps.Metrics.ProcessingTime.WithLabelValues(group).Observe(time.Since(start).Seconds())
			}
			return
		}
		if p.ctx.Err() != nil {
			return // shutdown: leave pending, do not dead-letter
		}
		p.logger.Warn("stage processing failed",
			"stage", group, "trade_id", entry.Event.TradeID,
			"attempt", attempt, "error", lastErr)
		if p.deps.Metrics != nil {
			p.deps.Metrics.StageErrors.WithLabelValues(group).Inc()
		}
		if attempt < p.cfg.MaxAttempts && !sleepCtx(p.ctx, retryBackoff*time.Duration(attempt)) {
			return
		}
	}

	if err := p.deps.Bus.DeadLetter(p.ctx, group, entry, lastErr.Error()); err != nil {
		p.logger.Error("dead-letter failed", "stage", group, "entry", entry.ID, "error", err)
		return
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.DeadLetters.Inc()
	}
}

func (p *Pipeline) reportLag(group string) {
	if p.deps.Metrics == nil {
		return
	}
	pending, err := p.deps.Bus.Pending(p.ctx, group)
	if err != nil {
		return
	}
	p.deps.Metrics.StageLag.WithLabelValues(group).Set(float64(pending))
}

// ————————————————————————————————————————————————————————————————————————
// Detect stage
// ————————————————————————————————————————————————————————————————————————

func (p *Pipeline) handleDetect(ctx context.Context, entry bus.Entry) error {
	trade := entry.Event
	p.noteMarket(trade)

	profile, err := p.deps.Analyzer.Analyze(ctx, trade.WalletAddress, false)
	if err != nil {
		return fmt.Errorf("profile %s: %w", trade.WalletAddress, err)
	}

	bundle := detector.SignalBundle{
		TradeEvent:          trade,
		FreshWalletSignal:   p.deps.Fresh.Evaluate(trade, profile),
		SizeAnomalySignal:   p.deps.Size.Detect(trade, p.marketMetadata(ctx, trade.MarketID), nil, p.bookDepth(ctx, trade)),
		SniperClusterSignal: p.sniperSignal(trade),
	}
	p.countSignals(bundle)

	assessment, err := p.deps.Scorer.Assess(ctx, bundle)
	if err != nil {
		return fmt.Errorf("assess trade %s: %w", trade.TradeID, err)
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.AssessmentsTotal.Inc()
	}

	p.persistProfile(ctx, profile)
	if bundle.FreshWalletSignal != nil {
		p.traceFunding(ctx, trade.WalletAddress)
	}

	switch {
	case assessment.ShouldAlert:
		if p.deps.Metrics != nil {
			p.deps.Metrics.AlertsTriggered.Inc()
		}
		p.deliver(ctx, assessment)
	case assessment.WeightedScore >= p.cfg.AlertThreshold && p.cfg.AlertThreshold > 0:
		// Crossed the threshold but lost to the dedup window.
		if p.deps.Metrics != nil {
			p.deps.Metrics.AlertsSuppressed.Inc()
		}
	}
	return nil
}

// marketMetadata is cache-first with a conservative placeholder when
// the market is unknown to the catalog.
func (p *Pipeline) marketMetadata(ctx context.Context, conditionID string) *types.MarketMetadata {
	if p.deps.Metadata != nil {
		md, err := p.deps.Metadata.Market(ctx, conditionID)
		if err == nil && md != nil {
			return md
		}
		if err != nil {
			p.logger.Debug("metadata lookup failed", "market", conditionID, "error", err)
		}
	}
	placeholder := types.PlaceholderMetadata(conditionID)
	return &placeholder
}

// bookDepth fetches top-of-book liquidity for impact estimation.
// Best-effort: a missing book just weakens the size signal.
func (p *Pipeline) bookDepth(ctx context.Context, trade types.TradeEvent) *decimal.Decimal {
	if p.deps.CLOB == nil || trade.AssetID == "" {
		return nil
	}
	book, err := p.deps.CLOB.Orderbook(ctx, trade.AssetID)
	if err != nil {
		p.logger.Debug("orderbook fetch failed", "asset", trade.AssetID, "error", err)
		return nil
	}
	depth := book.TopOfBookDepth()
	return &depth
}

// sniperSignal attaches a cluster signal when the trading wallet is a
// known member of a sniper cluster.
func (p *Pipeline) sniperSignal(trade types.TradeEvent) *types.SniperClusterSignal {
	return p.deps.Sniper.SignalFor(trade.WalletAddress)
}

func (p *Pipeline) countSignals(bundle detector.SignalBundle) {
	if p.deps.Metrics == nil {
		return
	}
	if bundle.FreshWalletSignal != nil {
		p.deps.Metrics.SignalsTotal.WithLabelValues("fresh_wallet").Inc()
	}
	if bundle.SizeAnomalySignal != nil {
		p.deps.Metrics.SignalsTotal.WithLabelValues("size_anomaly").Inc()
	}
	if bundle.SniperClusterSignal != nil {
		p.deps.Metrics.SignalsTotal.WithLabelValues("sniper_cluster").Inc()
	}
}

// persistProfile writes the profile to the durable store. Best-effort:
// the Redis cache remains the hot path.
func (p *Pipeline) persistProfile(ctx context.Context, profile types.WalletProfile) {
	if p.deps.Store == nil {
		return
	}
	if err := p.deps.Store.Wallets.Upsert(ctx, profile); err != nil {
		p.logger.Warn("profile persist failed", "wallet", profile.Address, "error", err)
	}
}

// traceFunding walks the funding chain of a fresh wallet and records
// the transfers and the origin relationship.
func (p *Pipeline) traceFunding(ctx context.Context, wallet string) {
	if p.deps.Tracer == nil {
		return
	}
	chain := p.deps.Tracer.Trace(ctx, wallet)
	if p.deps.Store == nil || len(chain.Chain) == 0 {
		return
	}
	if _, err := p.deps.Store.Funding.SaveChain(ctx, chain); err != nil {
		p.logger.Warn("funding persist failed", "wallet", wallet, "error", err)
	}
	if chain.OriginAddress != "" && chain.OriginAddress != wallet {
		rel := storage.WalletRelationship{
			WalletA:    wallet,
			WalletB:    chain.OriginAddress,
			Type:       storage.RelationshipFunding,
			Confidence: p.deps.Tracer.SuspiciousnessScore(chain),
		}
		if err := p.deps.Store.Relationships.Upsert(ctx, rel); err != nil {
			p.logger.Warn("relationship persist failed", "wallet", wallet, "error", err)
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Alert delivery
// ————————————————————————————————————————————————————————————————————————

// deliver pushes one alerting assessment through the hour-bucket dedup,
// the dispatcher, and the audit trail. Delivery failures do not fail
// the stage entry: the scorer's dedup window already fired, so a replay
// would double-alert.
func (p *Pipeline) deliver(ctx context.Context, assessment types.RiskAssessment) {
	if p.deps.History != nil {
		send, err := p.deps.History.ShouldSend(ctx, assessment)
		if err != nil {
			p.logger.Warn("history dedup check failed", "error", err)
		} else if !send {
			if p.deps.Metrics != nil {
				p.deps.Metrics.AlertsSuppressed.Inc()
			}
			return
		}
	}

	alert := p.deps.Formatter.Format(assessment)
	result := p.deps.Dispatcher.Dispatch(ctx, alert)

	attempted := make([]string, 0, len(result.ChannelResults))
	for name := range result.ChannelResults {
		attempted = append(attempted, name)
	}

	var alertID string
	if p.deps.History != nil {
		id, err := p.deps.History.RecordSent(ctx, assessment, attempted, result.ChannelResults)
		if err != nil {
			p.logger.Warn("history record failed", "error", err)
		}
		alertID = id
	}
	p.persistAlert(ctx, alertID, assessment, result)

	if !result.AllSucceeded() {
		p.logger.Warn("alert delivery incomplete",
			"wallet", assessment.WalletAddress,
			"market", assessment.MarketID,
			"succeeded", result.SuccessCount,
			"failed", result.FailureCount)
	}
}

func (p *Pipeline) persistAlert(ctx context.Context, alertID string, assessment types.RiskAssessment, result alerter.DispatchResult) {
	if p.deps.Store == nil || alertID == "" {
		return
	}

	record := types.AlertRecord{
		AlertID:       alertID,
		AssessmentID:  assessment.AssessmentID,
		WalletAddress: assessment.WalletAddress,
		MarketID:      assessment.MarketID,
		WeightedScore: assessment.WeightedScore,
		SignalsFired:  assessment.SignalNames(),
		CreatedAt:     time.Now().UTC(),
	}
	for name, ok := range result.ChannelResults {
		record.ChannelsAttempted = append(record.ChannelsAttempted, name)
		if ok {
			record.ChannelsSucceeded = append(record.ChannelsSucceeded, name)
		}
	}
	if err := p.deps.Store.Alerts.Insert(ctx, record); err != nil {
		p.logger.Warn("alert persist failed", "alert_id", alertID, "error", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Sniper stage
// ————————————————————————————————————————————————————————————————————————

func (p *Pipeline) handleSniper(ctx context.Context, entry bus.Entry) error {
	firstSeen := p.noteMarket(entry.Event)
	p.deps.Sniper.RecordEntry(entry.Event, firstSeen)
	return nil
}

// sniperLoop runs the clustering pass on a timer and persists the
// resulting wallet relationships.
func (p *Pipeline) sniperLoop() {
	ticker := time.NewTicker(p.cfg.SniperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			signals := p.deps.Sniper.RunClustering()
			if len(signals) == 0 {
				continue
			}
			p.logger.Info("sniper clustering pass", "new_signals", len(signals))
			for _, signal := range signals {
				p.persistCluster(p.ctx, signal)
			}
		}
	}
}

func (p *Pipeline) persistCluster(ctx context.Context, signal types.SniperClusterSignal) {
	if p.deps.Store == nil {
		return
	}
	info, ok := p.deps.Sniper.ClusterFor(signal.WalletAddress)
	if !ok {
		return
	}
	for other := range info.Wallets {
		if other == signal.WalletAddress {
			continue
		}
		rel := storage.WalletRelationship{
			WalletA:    signal.WalletAddress,
			WalletB:    other,
			Type:       storage.RelationshipCluster,
			Confidence: signal.Confidence,
		}
		if err := p.deps.Store.Relationships.Upsert(ctx, rel); err != nil {
			p.logger.Warn("cluster relationship persist failed",
				"wallet", signal.WalletAddress, "error", err)
		}
	}
}

// ————————————————————————————————————————————————————————————————————————
// Housekeeping
// ————————————————————————————————————————————————————————————————————————

// cleanupLoop prunes the alert time index past the retention window.
func (p *Pipeline) cleanupLoop() {
	if p.deps.History == nil {
		return
	}
	ticker := time.NewTicker(defaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			removed, err := p.deps.History.CleanupOldAlerts(p.ctx)
			if err != nil {
				if p.ctx.Err() == nil {
					p.logger.Warn("alert cleanup failed", "error", err)
				}
				continue
			}
			if removed > 0 {
				p.logger.Info("pruned expired alerts", "removed", removed)
			}
		}
	}
}

// noteMarket records the earliest trade timestamp seen per market and
// returns it. The feed carries no market creation time, so the first
// observed trade stands in for it.
func (p *Pipeline) noteMarket(trade types.TradeEvent) time.Time {
	p.marketMu.Lock()
	defer p.marketMu.Unlock()

	first, ok := p.marketFirstSeen[trade.MarketID]
	if !ok || trade.Timestamp.Before(first) {
		first = trade.Timestamp
		p.marketFirstSeen[trade.MarketID] = first
	}
	return first
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
