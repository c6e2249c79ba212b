package alerter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-tracker/internal/ratelimit"
	"polymarket-tracker/pkg/types"
)

const (
	// Discord allows 30 webhook executions per minute.
	discordRateLimit = 30

	defaultChannelRetries = 3
	defaultRetryDelay     = time.Second
	defaultChannelTimeout = 10 * time.Second
)

// Channel delivers one formatted alert to a notification backend.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert types.FormattedAlert) error
}

// DiscordChannel posts alerts to a Discord webhook.
type DiscordChannel struct {
	webhookURL string
	http       *resty.Client
	limiter    *ratelimit.SlidingWindow
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewDiscordChannel creates a webhook channel with the standard Discord
// rate limit.
func NewDiscordChannel(webhookURL string, logger *slog.Logger) *DiscordChannel {
	return &DiscordChannel{
		webhookURL: webhookURL,
		http:       resty.New().SetTimeout(defaultChannelTimeout),
		limiter:    ratelimit.NewSlidingWindow(discordRateLimit, time.Minute),
		maxRetries: defaultChannelRetries,
		retryDelay: defaultRetryDelay,
		logger:     logger.With("component", "discord_channel"),
	}
}

// Name implements Channel.
func (c *DiscordChannel) Name() string { return "discord" }

// Send posts the alert's embed to the webhook. A 204 means delivered;
// a 429 sleeps for the server's retry_after and retries.
func (c *DiscordChannel) Send(ctx context.Context, alert types.FormattedAlert) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload := map[string]any{
		"embeds": []types.DiscordEmbed{alert.DiscordEmbed},
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			Post(c.webhookURL)

		switch {
		case err != nil:
			lastErr = err
			c.logger.Warn("discord webhook request failed", "attempt", attempt+1, "error", err)

		case resp.StatusCode() == 204:
			c.logger.Debug("discord alert delivered")
			return nil

		case resp.StatusCode() == 429:
			retryAfter := parseRetryAfter(resp.Body())
			lastErr = fmt.Errorf("discord rate limited")
			c.logger.Warn("discord rate limited", "retry_after", retryAfter)
			if err := sleepCtx(ctx, retryAfter); err != nil {
				return err
			}
			continue

		default:
			lastErr = fmt.Errorf("discord webhook returned %d", resp.StatusCode())
			c.logger.Warn("discord webhook rejected alert",
				"status", resp.StatusCode(), "body", string(resp.Body()))
		}

		if attempt < c.maxRetries-1 {
			if err := sleepCtx(ctx, c.retryDelay*(1<<attempt)); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("discord delivery failed after %d attempts: %w", c.maxRetries, lastErr)
}

// parseRetryAfter extracts retry_after seconds from a 429 body,
// defaulting to one second.
func parseRetryAfter(body []byte) time.Duration {
	var wire struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &wire); err != nil || wire.RetryAfter <= 0 {
		return time.Second
	}
	return time.Duration(wire.RetryAfter * float64(time.Second))
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
