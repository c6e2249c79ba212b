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

// Telegram allows roughly 20 messages per minute to the same chat.
const telegramRateLimit = 20

const telegramAPIBase = "https://api.telegram.org"

// TelegramChannel sends alerts through the Telegram Bot API.
type TelegramChannel struct {
	apiURL     string
	chatID     string
	http       *resty.Client
	limiter    *ratelimit.SlidingWindow
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewTelegramChannel creates a bot channel for the given chat.
func NewTelegramChannel(botToken, chatID string, logger *slog.Logger) *TelegramChannel {
	return &TelegramChannel{
		apiURL:     fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, botToken),
		chatID:     chatID,
		http:       resty.New().SetTimeout(defaultChannelTimeout),
		limiter:    ratelimit.NewSlidingWindow(telegramRateLimit, time.Minute),
		maxRetries: defaultChannelRetries,
		retryDelay: defaultRetryDelay,
		logger:     logger.With("component", "telegram_channel"),
	}
}

// Name implements Channel.
func (c *TelegramChannel) Name() string { return "telegram" }

// telegramResponse is the Bot API envelope.
type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter float64 `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts the MarkdownV2 message to the chat. The Bot API signals
// success with ok:true and rate limiting with error_code 429.
func (c *TelegramChannel) Send(ctx context.Context, alert types.FormattedAlert) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload := map[string]any{
		"chat_id":                  c.chatID,
		"text":                     alert.TelegramMarkdown,
		"parse_mode":               "MarkdownV2",
		"disable_web_page_preview": false,
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		resp, err := c.http.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			Post(c.apiURL)

		if err != nil {
			lastErr = err
			c.logger.Warn("telegram request failed", "attempt", attempt+1, "error", err)
		} else {
			var wire telegramResponse
			if err := json.Unmarshal(resp.Body(), &wire); err != nil {
				lastErr = fmt.Errorf("telegram response: %w", err)
			} else if wire.OK {
				c.logger.Debug("telegram alert delivered")
				return nil
			} else if wire.ErrorCode == 429 {
				retryAfter := time.Duration(wire.Parameters.RetryAfter * float64(time.Second))
				if retryAfter <= 0 {
					retryAfter = time.Second
				}
				lastErr = fmt.Errorf("telegram rate limited")
				c.logger.Warn("telegram rate limited", "retry_after", retryAfter)
				if err := sleepCtx(ctx, retryAfter); err != nil {
					return err
				}
				continue
			} else {
				lastErr = fmt.Errorf("telegram api error %d: %s", wire.ErrorCode, wire.Description)
				c.logger.Warn("telegram rejected alert",
					"error_code", wire.ErrorCode, "description", wire.Description)
			}
		}

		if attempt < c.maxRetries-1 {
			if err := sleepCtx(ctx, c.retryDelay*(1<<attempt)); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("telegram delivery failed after %d attempts: %w", c.maxRetries, lastErr)
}
