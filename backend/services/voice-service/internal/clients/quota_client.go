package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"voicecoach/backend/services/voice-service/internal/billing"
)

// QuotaClient calls the quota-service over HTTP. It implements billing.QuotaClient.
type QuotaClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewQuotaClient returns HTTP client wrapper.
func NewQuotaClient(baseURL string, logger *zap.Logger) *QuotaClient {
	return &QuotaClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger,
	}
}

type quotaErrorResponse struct {
	Error string `json:"error"`
}

// Deduct performs an atomic charge against the user's balance.
func (c *QuotaClient) Deduct(ctx context.Context, req billing.DeductRequest) (*billing.DeductResult, error) {
	var result billing.DeductResult
	if err := c.post(ctx, "/internal/quota/deduct", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Refund credits points back to the user's balance.
func (c *QuotaClient) Refund(ctx context.Context, req billing.RefundRequest) (*billing.RefundResult, error) {
	var result billing.RefundResult
	if err := c.post(ctx, "/internal/quota/refund", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *QuotaClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	if c.baseURL == "" {
		return errors.New("quota client: base url not configured")
	}

	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s%s", c.baseURL, path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("quota client request failed", zap.String("path", path), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.decodeError(path, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("quota client: decode response: %w", err)
		}
	}
	return nil
}

func (c *QuotaClient) decodeError(path string, resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body quotaErrorResponse
	_ = json.Unmarshal(payload, &body)

	if resp.StatusCode == http.StatusPaymentRequired {
		return billing.ErrInsufficientQuota
	}

	c.logger.Warn("quota client returned non-success",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("error", body.Error),
	)
	if body.Error != "" {
		return fmt.Errorf("quota client: %s", body.Error)
	}
	return fmt.Errorf("quota client: unexpected status %d", resp.StatusCode)
}
