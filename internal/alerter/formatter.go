// Package alerter turns risk assessments into formatted alerts and
// delivers them to the configured notification channels.
//
// The formatter renders one FormattedAlert per assessment with a
// Discord embed, a Telegram MarkdownV2 message, and a plain-text
// fallback. The dispatcher fans the alert out concurrently with a
// circuit breaker per channel, and the history keeps a queryable
// record of everything sent.
package alerter

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"polymarket-tracker/pkg/types"
)

const (
	marketURLTemplate = "https://polymarket.com/event/%s"
	walletURLTemplate = "https://polygonscan.com/address/%s"

	// Discord embed colors by risk bucket.
	colorHighRisk   = 15158332 // red
	colorMediumRisk = 15105570 // orange
	colorLowRisk    = 16776960 // yellow
)

// Verbosity selects how much context goes into each alert.
type Verbosity string

const (
	VerbosityCompact  Verbosity = "compact"
	VerbosityDetailed Verbosity = "detailed"
)

// TruncateAddress shortens an address to the 0x1234...5678 form.
func TruncateAddress(address string) string {
	const chars = 4
	if len(address) < chars*2+4 {
		return address
	}
	return address[:chars+2] + "..." + address[len(address)-chars:]
}

// FormatUSDC renders an amount as $1,234.56.
func FormatUSDC(amount decimal.Decimal) string {
	s := amount.StringFixed(2)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	dot := strings.IndexByte(s, '.')
	whole, frac := s[:dot], s[dot:]
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := "$" + b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}

// riskColor maps a weighted score to its Discord embed color.
func riskColor(score float64) int {
	switch {
	case score >= 0.7:
		return colorHighRisk
	case score >= 0.5:
		return colorMediumRisk
	default:
		return colorLowRisk
	}
}

// triggeredSignals returns the display names of the signals that fired.
func triggeredSignals(a types.RiskAssessment) []string {
	var signals []string
	if a.FreshWalletSignal != nil {
		signals = append(signals, "Fresh Wallet")
	}
	if a.SizeAnomalySignal != nil {
		signals = append(signals, "Large Position")
		if a.SizeAnomalySignal.IsNicheMarket {
			signals = append(signals, "Niche Market")
		}
	}
	if a.SniperClusterSignal != nil {
		signals = append(signals, "Sniper Cluster")
	}
	return signals
}

// walletAgeSuffix renders the wallet age when the fresh-wallet profile
// carries one: minutes below an hour, whole hours otherwise.
func walletAgeSuffix(a types.RiskAssessment) string {
	if a.FreshWalletSignal == nil || a.FreshWalletSignal.WalletProfile.AgeHours == nil {
		return ""
	}
	age := *a.FreshWalletSignal.WalletProfile.AgeHours
	if age < 1 {
		return fmt.Sprintf(" (Age: %dm)", int(age*60))
	}
	return fmt.Sprintf(" (Age: %.0fh)", age)
}

// Formatter renders RiskAssessments into multi-channel alerts.
type Formatter struct {
	verbosity Verbosity
}

// NewFormatter creates a formatter. An empty verbosity means detailed.
func NewFormatter(verbosity Verbosity) *Formatter {
	if verbosity == "" {
		verbosity = VerbosityDetailed
	}
	return &Formatter{verbosity: verbosity}
}

// Format renders one assessment into every channel format.
func (f *Formatter) Format(a types.RiskAssessment) types.FormattedAlert {
	walletShort := TruncateAddress(a.WalletAddress)
	level := types.RiskLevelFor(a.WeightedScore)
	signals := triggeredSignals(a)
	links := f.buildLinks(a)

	return types.FormattedAlert{
		Title:            fmt.Sprintf("🚨 Suspicious Activity Detected - %s Risk", level),
		Body:             f.buildBody(a, walletShort, level, signals),
		DiscordEmbed:     f.buildDiscordEmbed(a, walletShort, level, signals, links),
		TelegramMarkdown: f.buildTelegramMarkdown(a, walletShort, level, signals, links),
		PlainText:        f.buildPlainText(a, walletShort, level, signals, links),
		Links:            links,
	}
}

func (f *Formatter) buildLinks(a types.RiskAssessment) map[string]string {
	links := map[string]string{
		"wallet": fmt.Sprintf(walletURLTemplate, a.WalletAddress),
	}
	if slug := a.TradeEvent.MarketSlug; slug != "" {
		links["market"] = fmt.Sprintf(marketURLTemplate, slug)
	}
	return links
}

func (f *Formatter) buildBody(a types.RiskAssessment, walletShort string, level types.RiskLevel, signals []string) string {
	trade := a.TradeEvent

	if f.verbosity == VerbosityCompact {
		return fmt.Sprintf("Wallet %s made a %s trade (%s) with risk score %.2f (%s)",
			walletShort, trade.Side, FormatUSDC(trade.NotionalValue()), a.WeightedScore, level)
	}

	lines := []string{
		fmt.Sprintf("Wallet: %s", walletShort),
		fmt.Sprintf("Risk Score: %.2f (%s)", a.WeightedScore, level),
		fmt.Sprintf("Trade: %s %s @ $%s", trade.Side, trade.Outcome, trade.Price.StringFixed(3)),
		fmt.Sprintf("Size: %s", FormatUSDC(trade.NotionalValue())),
	}
	if len(signals) > 0 {
		lines = append(lines, "Signals: "+strings.Join(signals, ", "))
	}
	if trade.EventTitle != "" {
		lines = append(lines, "Market: "+trade.EventTitle)
	}
	return strings.Join(lines, "\n")
}

func (f *Formatter) buildDiscordEmbed(a types.RiskAssessment, walletShort string, level types.RiskLevel, signals []string, links map[string]string) types.DiscordEmbed {
	trade := a.TradeEvent

	fields := []types.DiscordField{
		{Name: "Wallet", Value: fmt.Sprintf("`%s`%s", walletShort, walletAgeSuffix(a)), Inline: true},
		{Name: "Risk Score", Value: fmt.Sprintf("%.2f (%s)", a.WeightedScore, level), Inline: true},
	}

	marketTitle := marketDisplayTitle(trade)
	marketValue := marketTitle
	if link, ok := links["market"]; ok {
		marketValue = fmt.Sprintf("[%s](%s)", marketTitle, link)
	}
	fields = append(fields, types.DiscordField{Name: "Market", Value: marketValue})

	fields = append(fields, types.DiscordField{
		Name: "Trade",
		Value: fmt.Sprintf("%s %s @ $%s | %s",
			trade.Side, trade.Outcome, trade.Price.StringFixed(3), FormatUSDC(trade.NotionalValue())),
	})

	if len(signals) > 0 {
		fields = append(fields, types.DiscordField{Name: "Signals", Value: strings.Join(signals, ", ")})
	}

	if f.verbosity == VerbosityDetailed {
		var confidences []string
		if a.FreshWalletSignal != nil {
			confidences = append(confidences, fmt.Sprintf("Fresh Wallet: %.0f%%", a.FreshWalletSignal.Confidence*100))
		}
		if a.SizeAnomalySignal != nil {
			confidences = append(confidences, fmt.Sprintf("Size Anomaly: %.0f%%", a.SizeAnomalySignal.Confidence*100))
		}
		if a.SniperClusterSignal != nil {
			confidences = append(confidences, fmt.Sprintf("Sniper Cluster: %.0f%%", a.SniperClusterSignal.Confidence*100))
		}
		if len(confidences) > 0 {
			fields = append(fields, types.DiscordField{Name: "Confidence", Value: strings.Join(confidences, " | ")})
		}
	}

	return types.DiscordEmbed{
		Title:  "🚨 Suspicious Activity Detected",
		URL:    links["wallet"],
		Color:  riskColor(a.WeightedScore),
		Fields: fields,
		Footer: &types.DiscordFooter{Text: "Polymarket Insider Tracker"},
	}
}

func (f *Formatter) buildTelegramMarkdown(a types.RiskAssessment, walletShort string, level types.RiskLevel, signals []string, links map[string]string) string {
	trade := a.TradeEvent
	lines := []string{"🚨 *Suspicious Activity Detected*", ""}

	walletLine := fmt.Sprintf("*Wallet:* `%s`", walletShort)
	if age := walletAgeSuffix(a); age != "" {
		walletLine += strings.NewReplacer("(", `\(`, ")", `\)`).Replace(age)
	}
	lines = append(lines, walletLine)

	lines = append(lines, fmt.Sprintf(`*Risk Score:* %.2f \(%s\)`, a.WeightedScore, level))

	marketTitle := escapeTelegramMarkdown(marketDisplayTitle(trade))
	if link, ok := links["market"]; ok {
		lines = append(lines, fmt.Sprintf("*Market:* [%s](%s)", marketTitle, link))
	} else {
		lines = append(lines, "*Market:* "+marketTitle)
	}

	usdc := strings.ReplaceAll(FormatUSDC(trade.NotionalValue()), "$", `\$`)
	lines = append(lines, fmt.Sprintf(`*Trade:* %s %s @ \$%s \| %s`,
		trade.Side, trade.Outcome, trade.Price.StringFixed(3), usdc))

	if len(signals) > 0 {
		lines = append(lines, "*Signals:* "+strings.Join(signals, ", "))
	}

	lines = append(lines, "")
	if link, ok := links["wallet"]; ok {
		lines = append(lines, fmt.Sprintf("[View Wallet](%s)", link))
	}
	if link, ok := links["market"]; ok {
		lines = append(lines, fmt.Sprintf("[View Market](%s)", link))
	}
	return strings.Join(lines, "\n")
}

// escapeTelegramMarkdown escapes the characters Telegram's MarkdownV2
// parse mode treats as syntax. Backslash goes first so escapes are not
// double-escaped.
func escapeTelegramMarkdown(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	for _, c := range []string{"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"} {
		text = strings.ReplaceAll(text, c, `\`+c)
	}
	return text
}

func (f *Formatter) buildPlainText(a types.RiskAssessment, walletShort string, level types.RiskLevel, signals []string, links map[string]string) string {
	trade := a.TradeEvent

	lines := []string{
		"SUSPICIOUS ACTIVITY DETECTED",
		strings.Repeat("=", 30),
		"",
		fmt.Sprintf("Wallet: %s%s", walletShort, walletAgeSuffix(a)),
		fmt.Sprintf("Risk Score: %.2f (%s)", a.WeightedScore, level),
		"Market: " + marketDisplayTitle(trade),
		fmt.Sprintf("Trade: %s %s @ $%s | %s",
			trade.Side, trade.Outcome, trade.Price.StringFixed(3), FormatUSDC(trade.NotionalValue())),
	}
	if len(signals) > 0 {
		lines = append(lines, "Signals: "+strings.Join(signals, ", "))
	}
	lines = append(lines, "")
	if link, ok := links["wallet"]; ok {
		lines = append(lines, "Wallet: "+link)
	}
	if link, ok := links["market"]; ok {
		lines = append(lines, "Market: "+link)
	}
	return strings.Join(lines, "\n")
}

func marketDisplayTitle(trade types.TradeEvent) string {
	switch {
	case trade.EventTitle != "":
		return trade.EventTitle
	case trade.MarketSlug != "":
		return trade.MarketSlug
	default:
		return "Unknown Market"
	}
}
