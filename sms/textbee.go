// Package sms sends price alerts through the TextBee gateway and keeps
// templates, subscriptions and a delivery log.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agri-price-api/config"

	"go.uber.org/zap"
)

// Sender delivers one message to a batch of recipients and returns the
// provider's reference for the batch.
type Sender interface {
	Send(ctx context.Context, recipients []string, message string) (string, error)
}

type TextBee struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	deviceID string
}

func NewTextBee(cfg config.SMSConfig) *TextBee {
	return NewTextBeeWithClient(cfg, &http.Client{Timeout: 30 * time.Second})
}

func NewTextBeeWithClient(cfg config.SMSConfig, client *http.Client) *TextBee {
	return &TextBee{
		client:   client,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		deviceID: cfg.DeviceID,
	}
}

type sendRequest struct {
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
}

type sendResponse struct {
	Data struct {
		ID         string `json:"_id"`
		SMSBatchID string `json:"smsBatchId"`
	} `json:"data"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (t *TextBee) Send(ctx context.Context, recipients []string, message string) (string, error) {
	body, err := json.Marshal(sendRequest{Recipients: recipients, Message: message})
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/gateway/devices/%s/send-sms", t.baseURL, t.deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("textbee request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var out sendResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := out.Error
		if reason == "" {
			reason = out.Message
		}
		if reason == "" {
			reason = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("textbee: status %d: %s", resp.StatusCode, reason)
	}
	if out.Data.SMSBatchID != "" {
		return out.Data.SMSBatchID, nil
	}
	return out.Data.ID, nil
}

// LogSender stands in for the gateway when no credentials are configured.
type LogSender struct {
	Logger *zap.Logger
}

func (l LogSender) Send(_ context.Context, recipients []string, message string) (string, error) {
	l.Logger.Info("sms gateway not configured, message logged only",
		zap.Strings("recipients", recipients),
		zap.String("message", message))
	return "log-only", nil
}

// NewSender picks TextBee when credentials are present.
func NewSender(cfg config.SMSConfig, logger *zap.Logger) Sender {
	if cfg.Enabled() {
		return NewTextBee(cfg)
	}
	return LogSender{Logger: logger}
}
