package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Alerts
// ————————————————————————————————————————————————————————————————————————

// RiskLevel buckets a weighted score for display.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "HIGH"   // score ≥ 0.7
	RiskMedium RiskLevel = "MEDIUM" // score ≥ 0.5
	RiskLow    RiskLevel = "LOW"
)

// RiskLevelFor maps a weighted score to its display bucket.
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score >= 0.7:
		return RiskHigh
	case score >= 0.5:
		return RiskMedium
	default:
		return RiskLow
	}
}

// DiscordEmbed is the embed object posted to a Discord webhook.
type DiscordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color"`
	Fields      []DiscordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Footer      *DiscordFooter `json:"footer,omitempty"`
}

// DiscordField is one inline or block field of an embed.
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// DiscordFooter is the footer line of an embed.
type DiscordFooter struct {
	Text string `json:"text"`
}

// FormattedAlert holds the pre-rendered payload for every channel kind,
// produced once by the formatter and fanned out by the dispatcher.
type FormattedAlert struct {
	Title            string
	Body             string
	DiscordEmbed     DiscordEmbed
	TelegramMarkdown string
	PlainText        string
	Links            map[string]string
}

// AlertRecord is the persisted audit entry for one dispatched alert.
type AlertRecord struct {
	AlertID           string    `db:"alert_id" json:"alert_id"`
	AssessmentID      string    `db:"assessment_id" json:"assessment_id,omitempty"`
	WalletAddress     string    `db:"wallet_address" json:"wallet_address"`
	MarketID          string    `db:"market_id" json:"market_id"`
	WeightedScore     float64   `db:"weighted_score" json:"risk_score"`
	SignalsFired      []string  `db:"-" json:"signals_triggered"`
	ChannelsAttempted []string  `db:"-" json:"channels_attempted"`
	ChannelsSucceeded []string  `db:"-" json:"channels_succeeded"`
	DedupKey          string    `db:"dedup_key" json:"dedup_key"`
	UserFeedback      *bool     `db:"user_feedback" json:"feedback_useful"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}
