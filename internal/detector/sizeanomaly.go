package detector

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-tracker/pkg/types"
)

const (
	// DefaultVolumeThreshold fires the volume component when a trade
	// exceeds 2% of the market's 24h volume.
	DefaultVolumeThreshold = 0.02

	// DefaultBookThreshold fires the book component at 5% of the
	// top-of-book depth.
	DefaultBookThreshold = 0.05

	// DefaultNicheVolumeThreshold marks markets with less than 50k USDC
	// of daily volume as niche.
	DefaultNicheVolumeThreshold = 50_000

	// noiseFloor suppresses signals whose confidence is negligible.
	noiseFloor = 0.1

	nicheMultiplier = 1.5
	nicheBase       = 0.2
)

// nicheProneCategories are treated as niche when volume data is missing.
var nicheProneCategories = map[string]bool{
	types.CategoryScience: true,
	types.CategoryOther:   true,
}

// SizeAnomalyConfig tunes the size-anomaly detector. Zero values take
// defaults.
type SizeAnomalyConfig struct {
	VolumeThreshold      float64
	BookThreshold        float64
	NicheVolumeThreshold float64
}

// SizeAnomalyDetector flags trades whose notional is large relative to
// the market's 24h volume or order book depth, amplified on niche
// markets where a modest trade moves price.
type SizeAnomalyDetector struct {
	volumeThreshold float64
	bookThreshold   float64
	nicheVolume     float64
	logger          *slog.Logger
}

// NewSizeAnomalyDetector creates a size-anomaly detector.
func NewSizeAnomalyDetector(cfg SizeAnomalyConfig, logger *slog.Logger) *SizeAnomalyDetector {
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = DefaultVolumeThreshold
	}
	if cfg.BookThreshold <= 0 {
		cfg.BookThreshold = DefaultBookThreshold
	}
	if cfg.NicheVolumeThreshold <= 0 {
		cfg.NicheVolumeThreshold = DefaultNicheVolumeThreshold
	}
	return &SizeAnomalyDetector{
		volumeThreshold: cfg.VolumeThreshold,
		bookThreshold:   cfg.BookThreshold,
		nicheVolume:     cfg.NicheVolumeThreshold,
		logger:          logger.With("component", "size_anomaly_detector"),
	}
}

// ramp converts an impact ratio into a confidence component: a linear
// ramp above the threshold, capped at 3x threshold with the given
// maximum weight.
func ramp(impact, threshold, maxWeight float64) float64 {
	if impact <= threshold {
		return 0
	}
	v := maxWeight * impact / (3 * threshold)
	if v > maxWeight {
		v = maxWeight
	}
	return v
}

// Detect evaluates a trade against optional market context. dailyVolume
// and bookDepth are nil when unknown; metadata nil falls back to a
// placeholder with category "other", which counts as niche.
func (d *SizeAnomalyDetector) Detect(trade types.TradeEvent, metadata *types.MarketMetadata, dailyVolume, bookDepth *decimal.Decimal) *types.SizeAnomalySignal {
	md := types.PlaceholderMetadata(trade.MarketID)
	if metadata != nil {
		md = *metadata
	}

	notional, _ := trade.NotionalValue().Float64()

	volumeImpact := 0.0
	if dailyVolume != nil && dailyVolume.IsPositive() {
		vol, _ := dailyVolume.Float64()
		volumeImpact = notional / vol
	}
	bookImpact := 0.0
	if bookDepth != nil && bookDepth.IsPositive() {
		depth, _ := bookDepth.Float64()
		bookImpact = notional / depth
	}

	var isNiche bool
	if dailyVolume != nil && dailyVolume.IsPositive() {
		vol, _ := dailyVolume.Float64()
		isNiche = vol < d.nicheVolume
	} else {
		isNiche = nicheProneCategories[md.Category]
	}

	factors := map[string]float64{}
	confidence := 0.0

	if v := ramp(volumeImpact, d.volumeThreshold, 0.5); v > 0 {
		factors["volume_impact"] = v
		confidence += v
	}
	if b := ramp(bookImpact, d.bookThreshold, 0.3); b > 0 {
		factors["book_impact"] = b
		confidence += b
	}

	if isNiche {
		if confidence > 0 {
			bonus := confidence * (nicheMultiplier - 1)
			factors["niche_multiplier"] = bonus
			confidence *= nicheMultiplier
		} else {
			factors["niche_base"] = nicheBase
			confidence = nicheBase
		}
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence <= noiseFloor {
		return nil
	}

	d.logger.Debug("size anomaly signal",
		"wallet", trade.WalletAddress,
		"market", trade.MarketID,
		"volume_impact", volumeImpact,
		"book_impact", bookImpact,
		"niche", isNiche,
		"confidence", confidence,
	)

	return &types.SizeAnomalySignal{
		TradeEvent:     trade,
		MarketMetadata: md,
		VolumeImpact:   volumeImpact,
		BookImpact:     bookImpact,
		IsNicheMarket:  isNiche,
		Confidence:     confidence,
		Factors:        factors,
		Timestamp:      time.Now().UTC(),
	}
}
