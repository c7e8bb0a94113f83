package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"feed_relay/internal/domain"
)

const embedColor = 5814783

type WebhookConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// Webhook posts articles to Discord-compatible webhook endpoints. It never
// retries; the outcome is reported as a delivery status.
type Webhook struct {
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

func NewWebhook(cfg WebhookConfig, logger *slog.Logger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Webhook{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		userAgent:  cfg.UserAgent,
		logger:     logger.With("component", "webhook"),
	}
}

type webhookPayload struct {
	Embeds []embed `json:"embeds"`
}

type embed struct {
	Title       string      `json:"title"`
	URL         string      `json:"url"`
	Description string      `json:"description"`
	Color       int         `json:"color"`
	Footer      embedFooter `json:"footer"`
}

type embedFooter struct {
	Text string `json:"text"`
}

func newPayload(msg domain.Message) webhookPayload {
	return webhookPayload{
		Embeds: []embed{{
			Title:       msg.Title,
			URL:         msg.URL,
			Description: msg.Summary,
			Color:       embedColor,
			Footer:      embedFooter{Text: "From: " + msg.Source},
		}},
	}
}

func (w *Webhook) Dispatch(ctx context.Context, url string, msg domain.Message) domain.DeliveryStatus {
	body, err := json.Marshal(newPayload(msg))
	if err != nil {
		w.logger.Error("failed to encode webhook payload", "error", err)
		return domain.DeliveryConnectionFailed
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("invalid webhook request", "error", err)
		return domain.DeliveryConnectionFailed
	}
	req.Header.Set("Content-Type", "application/json")
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Warn("webhook request failed", "error", err)
		return domain.DeliveryConnectionFailed
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	status := classify(resp.StatusCode)
	w.logger.Debug("webhook delivered",
		"title", msg.Title,
		"status_code", resp.StatusCode,
		"status", status,
	)
	return status
}

func classify(code int) domain.DeliveryStatus {
	switch code {
	case http.StatusOK, http.StatusNoContent:
		return domain.DeliverySuccess
	case http.StatusTooManyRequests:
		return domain.DeliveryRateLimited
	default:
		return domain.DeliveryError(code)
	}
}
