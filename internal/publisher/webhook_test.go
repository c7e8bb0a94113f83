package publisher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feed_relay/internal/domain"
)

func newTestWebhook() *Webhook {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWebhook(WebhookConfig{Timeout: 2 * time.Second, UserAgent: "FeedRelayTest/1.0"}, logger)
}

func TestWebhook_DispatchPayload(t *testing.T) {
	var (
		got         webhookPayload
		contentType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	status := newTestWebhook().Dispatch(context.Background(), srv.URL, domain.Message{
		Title:   "Hello",
		URL:     "https://example.com/1",
		Summary: "Body",
		Source:  "Blog",
	})

	assert.Equal(t, domain.DeliverySuccess, status)
	assert.Equal(t, "application/json", contentType)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, embed{
		Title:       "Hello",
		URL:         "https://example.com/1",
		Description: "Body",
		Color:       5814783,
		Footer:      embedFooter{Text: "From: Blog"},
	}, got.Embeds[0])
}

func TestWebhook_Classification(t *testing.T) {
	tests := []struct {
		name string
		code int
		want domain.DeliveryStatus
	}{
		{name: "ok", code: http.StatusOK, want: domain.DeliverySuccess},
		{name: "no content", code: http.StatusNoContent, want: domain.DeliverySuccess},
		{name: "rate limited", code: http.StatusTooManyRequests, want: domain.DeliveryRateLimited},
		{name: "not found", code: http.StatusNotFound, want: "Error: 404"},
		{name: "server error", code: http.StatusInternalServerError, want: "Error: 500"},
		{name: "created is not success", code: http.StatusCreated, want: "Error: 201"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			status := newTestWebhook().Dispatch(context.Background(), srv.URL, domain.Message{Title: "t"})
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestWebhook_NoRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	newTestWebhook().Dispatch(context.Background(), srv.URL, domain.Message{Title: "t"})
	assert.Equal(t, 1, calls)
}

func TestWebhook_ConnectionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	status := newTestWebhook().Dispatch(context.Background(), url, domain.Message{Title: "t"})
	assert.Equal(t, domain.DeliveryConnectionFailed, status)

	status = newTestWebhook().Dispatch(context.Background(), "://bad", domain.Message{Title: "t"})
	assert.Equal(t, domain.DeliveryConnectionFailed, status)
}
