package detector

import (
	"crypto/md5"
	"encoding/binary"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"polymarket-tracker/pkg/types"
)

const (
	// DefaultEntryThreshold is the window after market creation in
	// which an entry counts as sniping.
	DefaultEntryThreshold = 300 * time.Second

	// DefaultMinClusterSize is the minimum unique wallets per cluster.
	DefaultMinClusterSize = 3

	// DefaultMinEntriesPerWallet filters wallets into clustering.
	DefaultMinEntriesPerWallet = 2

	defaultEps        = 0.5
	defaultMinSamples = 2
)

// marketEntry records one wallet's early entry into a market.
type marketEntry struct {
	wallet     string
	marketID   string
	deltaSecs  float64
	positionSz float64 // notional USDC
	timestamp  time.Time
}

// ClusterInfo describes a detected sniper cluster.
type ClusterInfo struct {
	ClusterID       string
	Wallets         map[string]bool
	AvgEntryDelta   float64
	MarketsInCommon int
	CreatedAt       time.Time
}

// SniperConfig tunes the sniper detector. Zero values take defaults.
type SniperConfig struct {
	EntryThreshold      time.Duration
	MinClusterSize      int
	MinEntriesPerWallet int
	Eps                 float64
	MinSamples          int
}

// SniperDetector identifies groups of wallets that consistently enter
// markets within minutes of creation, suggesting shared advance
// knowledge. Entries accumulate between periodic clustering runs.
type SniperDetector struct {
	entryThreshold      time.Duration
	minClusterSize      int
	minEntriesPerWallet int
	eps                 float64
	minSamples          int
	logger              *slog.Logger

	mu            sync.Mutex
	walletEntries map[string][]marketEntry
	entryCount    int
	knownClusters map[string]ClusterInfo
	walletCluster map[string]string
	signaled      map[string]bool
}

// NewSniperDetector creates a sniper-cluster detector.
func NewSniperDetector(cfg SniperConfig, logger *slog.Logger) *SniperDetector {
	if cfg.EntryThreshold <= 0 {
		cfg.EntryThreshold = DefaultEntryThreshold
	}
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = DefaultMinClusterSize
	}
	if cfg.MinEntriesPerWallet <= 0 {
		cfg.MinEntriesPerWallet = DefaultMinEntriesPerWallet
	}
	if cfg.Eps <= 0 {
		cfg.Eps = defaultEps
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = defaultMinSamples
	}
	return &SniperDetector{
		entryThreshold:      cfg.EntryThreshold,
		minClusterSize:      cfg.MinClusterSize,
		minEntriesPerWallet: cfg.MinEntriesPerWallet,
		eps:                 cfg.Eps,
		minSamples:          cfg.MinSamples,
		logger:              logger.With("component", "sniper_detector"),
		walletEntries:       make(map[string][]marketEntry),
		knownClusters:       make(map[string]ClusterInfo),
		walletCluster:       make(map[string]string),
		signaled:            make(map[string]bool),
	}
}

// RecordEntry tracks a trade as a potential sniper entry. Entries
// outside the threshold window after market creation are ignored.
func (d *SniperDetector) RecordEntry(trade types.TradeEvent, marketCreatedAt time.Time) {
	delta := trade.Timestamp.Sub(marketCreatedAt).Seconds()
	if delta < 0 || delta > d.entryThreshold.Seconds() {
		return
	}

	notional, _ := trade.NotionalValue().Float64()
	entry := marketEntry{
		wallet:     strings.ToLower(trade.WalletAddress),
		marketID:   trade.MarketID,
		deltaSecs:  delta,
		positionSz: notional,
		timestamp:  trade.Timestamp,
	}

	d.mu.Lock()
	d.walletEntries[entry.wallet] = append(d.walletEntries[entry.wallet], entry)
	d.entryCount++
	d.mu.Unlock()

	d.logger.Debug("recorded sniper entry",
		"wallet", entry.wallet, "market", entry.marketID, "delta_seconds", delta)
}

// marketHash maps a market ID onto [0,1) for the feature space.
func marketHash(marketID string) float64 {
	sum := md5.Sum([]byte(marketID))
	v := binary.BigEndian.Uint32(sum[:4])
	return float64(v%1000) / 1000.0
}

// RunClustering clusters accumulated entries and returns signals for
// wallets that newly joined a cluster. Already-signaled wallets are
// suppressed across runs.
func (d *SniperDetector) RunClustering() []types.SniperClusterSignal {
	d.mu.Lock()
	defer d.mu.Unlock()

	var eligible []string
	for wallet, entries := range d.walletEntries {
		if len(entries) >= d.minEntriesPerWallet {
			eligible = append(eligible, wallet)
		}
	}
	if len(eligible) < d.minClusterSize {
		d.logger.Debug("not enough eligible wallets for clustering",
			"eligible", len(eligible), "min", d.minClusterSize)
		return nil
	}

	// One feature row per entry: market hash, delta in hours, log size.
	var points [][]float64
	var rowWallet []string
	for _, wallet := range eligible {
		for _, entry := range d.walletEntries[wallet] {
			points = append(points, []float64{
				marketHash(entry.marketID),
				entry.deltaSecs / 3600.0,
				math.Log10(math.Max(entry.positionSz, 1.0)),
			})
			rowWallet = append(rowWallet, wallet)
		}
	}
	if len(points) == 0 {
		return nil
	}

	labels := dbscan(points, d.eps, d.minSamples)

	clusterRows := make(map[int][]int)
	for row, label := range labels {
		if label != -1 {
			clusterRows[label] = append(clusterRows[label], row)
		}
	}

	var signals []types.SniperClusterSignal
	for _, rows := range clusterRows {
		wallets := make(map[string]bool)
		for _, row := range rows {
			wallets[rowWallet[row]] = true
		}
		if len(wallets) < d.minClusterSize {
			continue
		}

		avgDelta, marketsInCommon := d.clusterStats(wallets)
		clusterID := d.clusterIDFor(wallets)

		d.knownClusters[clusterID] = ClusterInfo{
			ClusterID:       clusterID,
			Wallets:         wallets,
			AvgEntryDelta:   avgDelta,
			MarketsInCommon: marketsInCommon,
			CreatedAt:       time.Now().UTC(),
		}
		for wallet := range wallets {
			d.walletCluster[wallet] = clusterID
		}

		confidence := d.confidence(len(wallets), avgDelta, marketsInCommon)
		for wallet := range wallets {
			if d.signaled[wallet] {
				continue
			}
			d.signaled[wallet] = true
			signals = append(signals, types.SniperClusterSignal{
				WalletAddress:        wallet,
				ClusterID:            clusterID,
				ClusterSize:          len(wallets),
				AvgEntryDeltaSeconds: avgDelta,
				MarketsInCommon:      marketsInCommon,
				Confidence:           confidence,
				Timestamp:            time.Now().UTC(),
			})
			d.logger.Info("new sniper detected",
				"wallet", wallet, "cluster", clusterID, "confidence", confidence)
		}
	}

	return signals
}

// clusterStats computes the average entry delta across all member
// entries and the number of markets common to every member.
func (d *SniperDetector) clusterStats(wallets map[string]bool) (avgDelta float64, marketsInCommon int) {
	var deltaSum float64
	var deltaCount int
	var common map[string]bool

	for wallet := range wallets {
		markets := make(map[string]bool)
		for _, entry := range d.walletEntries[wallet] {
			deltaSum += entry.deltaSecs
			deltaCount++
			markets[entry.marketID] = true
		}
		if common == nil {
			common = markets
		} else {
			for m := range common {
				if !markets[m] {
					delete(common, m)
				}
			}
		}
	}

	if deltaCount > 0 {
		avgDelta = deltaSum / float64(deltaCount)
	}
	if len(wallets) >= 2 {
		marketsInCommon = len(common)
	}
	return avgDelta, marketsInCommon
}

// clusterIDFor reuses an existing cluster ID when at least half of the
// wallets already belong to it, otherwise mints a new one.
func (d *SniperDetector) clusterIDFor(wallets map[string]bool) string {
	counts := make(map[string]int)
	for wallet := range wallets {
		if id, ok := d.walletCluster[wallet]; ok {
			counts[id]++
		}
	}

	bestID, bestCount := "", 0
	for id, n := range counts {
		if n > bestCount {
			bestID, bestCount = id, n
		}
	}
	if bestID != "" && bestCount >= len(wallets)/2 {
		return bestID
	}
	return uuid.NewString()
}

func (d *SniperDetector) confidence(size int, avgDelta float64, marketsInCommon int) float64 {
	sizeFactor := math.Min(1.0, float64(size)/10.0)
	speedFactor := math.Max(0.0, 1.0-avgDelta/d.entryThreshold.Seconds())
	overlapFactor := math.Min(1.0, float64(marketsInCommon)/5.0)

	c := 0.3*sizeFactor + 0.4*speedFactor + 0.3*overlapFactor
	return math.Round(math.Min(1.0, c)*1000) / 1000
}

// SignalFor builds a cluster signal for a wallet already assigned to a
// cluster, with the same confidence formula as the clustering pass.
// Returns nil for wallets outside every cluster.
func (d *SniperDetector) SignalFor(wallet string) *types.SniperClusterSignal {
	info, ok := d.ClusterFor(wallet)
	if !ok {
		return nil
	}
	return &types.SniperClusterSignal{
		WalletAddress:        strings.ToLower(wallet),
		ClusterID:            info.ClusterID,
		ClusterSize:          len(info.Wallets),
		AvgEntryDeltaSeconds: info.AvgEntryDelta,
		MarketsInCommon:      info.MarketsInCommon,
		Confidence:           d.confidence(len(info.Wallets), info.AvgEntryDelta, info.MarketsInCommon),
		Timestamp:            time.Now().UTC(),
	}
}

// IsSniper reports whether a wallet belongs to any known cluster.
func (d *SniperDetector) IsSniper(wallet string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.walletCluster[strings.ToLower(wallet)]
	return ok
}

// ClusterFor returns the cluster a wallet belongs to, if any.
func (d *SniperDetector) ClusterFor(wallet string) (ClusterInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.walletCluster[strings.ToLower(wallet)]
	if !ok {
		return ClusterInfo{}, false
	}
	info, ok := d.knownClusters[id]
	return info, ok
}

// EntryCount returns the number of tracked entries.
func (d *SniperDetector) EntryCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entryCount
}

// ClusterCount returns the number of detected clusters.
func (d *SniperDetector) ClusterCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.knownClusters)
}

// ClearEntries drops accumulated entries, keeping cluster history and
// the signaled set.
func (d *SniperDetector) ClearEntries() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.walletEntries = make(map[string][]marketEntry)
	d.entryCount = 0
	d.logger.Info("cleared sniper detector entries")
}
