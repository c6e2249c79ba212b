package alerter

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"polymarket-tracker/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleAssessment() types.RiskAssessment {
	age := 0.5
	trade := types.TradeEvent{
		MarketID:      "0xcond",
		TradeID:       "0xtx",
		WalletAddress: "0xabcdef1234567890abcdef1234567890abcdef12",
		Side:          types.BUY,
		Outcome:       "Yes",
		Price:         decimal.RequireFromString("0.075"),
		Size:          decimal.RequireFromString("200000"),
		Timestamp:     time.Now().UTC(),
		MarketSlug:    "obscure-senate-race",
		EventTitle:    "Obscure Senate Race 2026",
	}
	return types.RiskAssessment{
		TradeEvent:    trade,
		WalletAddress: trade.WalletAddress,
		MarketID:      trade.MarketID,
		FreshWalletSignal: &types.FreshWalletSignal{
			TradeEvent:    trade,
			WalletProfile: types.WalletProfile{Address: trade.WalletAddress, AgeHours: &age},
			Confidence:    0.8,
		},
		SizeAnomalySignal: &types.SizeAnomalySignal{
			TradeEvent:    trade,
			IsNicheMarket: true,
			Confidence:    1.0,
		},
		SignalsTriggered: 2,
		WeightedScore:    0.75,
		ShouldAlert:      true,
		AssessmentID:     types.NewAssessmentID(),
		Timestamp:        time.Now().UTC(),
	}
}

func TestTruncateAddress(t *testing.T) {
	t.Parallel()

	got := TruncateAddress("0xabcdef1234567890abcdef1234567890abcdef12")
	if got != "0xabcd...ef12" {
		t.Errorf("TruncateAddress = %q", got)
	}
	// Short strings pass through untouched.
	if got := TruncateAddress("0xab"); got != "0xab" {
		t.Errorf("short address = %q", got)
	}
}

func TestFormatUSDC(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"15000":      "$15,000.00",
		"1234567.89": "$1,234,567.89",
		"0.5":        "$0.50",
		"999":        "$999.00",
	}
	for in, want := range cases {
		if got := FormatUSDC(decimal.RequireFromString(in)); got != want {
			t.Errorf("FormatUSDC(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatDetailed(t *testing.T) {
	t.Parallel()
	f := NewFormatter(VerbosityDetailed)

	alert := f.Format(sampleAssessment())

	if !strings.Contains(alert.Title, "HIGH Risk") {
		t.Errorf("title = %q", alert.Title)
	}
	if alert.DiscordEmbed.Color != colorHighRisk {
		t.Errorf("color = %d, want red", alert.DiscordEmbed.Color)
	}
	if alert.DiscordEmbed.URL != "https://polygonscan.com/address/0xabcdef1234567890abcdef1234567890abcdef12" {
		t.Errorf("embed url = %q", alert.DiscordEmbed.URL)
	}

	// Fresh wallet at 30 minutes old shows a minutes suffix.
	var walletField string
	for _, field := range alert.DiscordEmbed.Fields {
		if field.Name == "Wallet" {
			walletField = field.Value
		}
	}
	if !strings.Contains(walletField, "(Age: 30m)") {
		t.Errorf("wallet field = %q", walletField)
	}

	if !strings.Contains(alert.Body, "Signals: Fresh Wallet, Large Position, Niche Market") {
		t.Errorf("body = %q", alert.Body)
	}
	if !strings.Contains(alert.PlainText, "Risk Score: 0.75 (HIGH)") {
		t.Errorf("plain text = %q", alert.PlainText)
	}
	if alert.Links["market"] != "https://polymarket.com/event/obscure-senate-race" {
		t.Errorf("market link = %q", alert.Links["market"])
	}
}

func TestFormatCompact(t *testing.T) {
	t.Parallel()
	f := NewFormatter(VerbosityCompact)

	alert := f.Format(sampleAssessment())
	want := "Wallet 0xabcd...ef12 made a BUY trade ($15,000.00) with risk score 0.75 (HIGH)"
	if alert.Body != want {
		t.Errorf("body = %q, want %q", alert.Body, want)
	}
}

func TestRiskColorBuckets(t *testing.T) {
	t.Parallel()

	if c := riskColor(0.7); c != colorHighRisk {
		t.Errorf("0.7 -> %d", c)
	}
	if c := riskColor(0.5); c != colorMediumRisk {
		t.Errorf("0.5 -> %d", c)
	}
	if c := riskColor(0.49); c != colorLowRisk {
		t.Errorf("0.49 -> %d", c)
	}
}

func TestEscapeTelegramMarkdown(t *testing.T) {
	t.Parallel()

	got := escapeTelegramMarkdown("Will X win? (odds: 50.5%) #1_pick")
	want := `Will X win? \(odds: 50\.5%\) \#1\_pick`
	if got != want {
		t.Errorf("escaped = %q, want %q", got, want)
	}

	// Pre-existing backslashes are escaped first, not doubled later.
	if got := escapeTelegramMarkdown(`a\b`); got != `a\\b` {
		t.Errorf("backslash = %q", got)
	}
}

func TestTelegramMarkdownOutput(t *testing.T) {
	t.Parallel()
	f := NewFormatter(VerbosityDetailed)

	md := f.Format(sampleAssessment()).TelegramMarkdown
	if !strings.Contains(md, "🚨 *Suspicious Activity Detected*") {
		t.Errorf("markdown = %q", md)
	}
	if !strings.Contains(md, `*Risk Score:* 0.75 \(HIGH\)`) {
		t.Errorf("markdown = %q", md)
	}
	if !strings.Contains(md, "[View Wallet](https://polygonscan.com/address/") {
		t.Errorf("markdown missing wallet link: %q", md)
	}
}

func TestMarketDisplayTitleFallbacks(t *testing.T) {
	t.Parallel()

	trade := types.TradeEvent{EventTitle: "Title", MarketSlug: "slug"}
	if got := marketDisplayTitle(trade); got != "Title" {
		t.Errorf("title = %q", got)
	}
	trade.EventTitle = ""
	if got := marketDisplayTitle(trade); got != "slug" {
		t.Errorf("title = %q", got)
	}
	trade.MarketSlug = ""
	if got := marketDisplayTitle(trade); got != "Unknown Market" {
		t.Errorf("title = %q", got)
	}
}
