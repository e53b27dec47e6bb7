package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"numera-bot/internal/config"
	"numera-bot/internal/stories/orders"
)

// CloudPayments. Webhook подписан HMAC-SHA256 по сырому телу (заголовок
// Content-HMAC, base64 либо hex), активный опрос — POST /payments/find
// с basic auth. Платёжная ссылка — виджет с параметрами заказа.
type CloudPayments struct {
	publicID   string
	apiSecret  string
	apiBaseURL string
	widgetURL  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewCloudPayments(cfg config.CloudPaymentsConfig, logger *slog.Logger) *CloudPayments {
	return &CloudPayments{
		publicID:   cfg.PublicID,
		apiSecret:  cfg.APISecret,
		apiBaseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		widgetURL:  cfg.WidgetURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (c *CloudPayments) Name() orders.Provider {
	return orders.ProviderCloudPayments
}

func (c *CloudPayments) PaymentLink(order *orders.Order, telegramUserID int64) (string, error) {
	if c.publicID == "" {
		return "", fmt.Errorf("cloudpayments public id не настроен")
	}

	params := url.Values{}
	params.Set("publicId", c.publicID)
	params.Set("invoiceId", strconv.FormatInt(order.ID, 10))
	params.Set("description", fmt.Sprintf("Тариф %s", order.Tariff))
	params.Set("amount", fmt.Sprintf("%d.00", order.Amount))
	params.Set("currency", order.Currency)
	if telegramUserID != 0 {
		params.Set("accountId", strconv.FormatInt(telegramUserID, 10))
	}

	return c.widgetURL + "?" + params.Encode(), nil
}

func (c *CloudPayments) VerifyWebhook(rawBody []byte, headers map[string]string) (*WebhookResult, error) {
	if c.apiSecret == "" {
		return nil, fmt.Errorf("cloudpayments api secret не настроен")
	}

	signature := findCloudPaymentsSignature(headers)
	if signature == "" {
		return nil, ErrMissingSignature
	}

	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write(rawBody)
	digest := mac.Sum(nil)

	expectedHex := hex.EncodeToString(digest)
	expectedB64 := base64.StdEncoding.EncodeToString(digest)
	if !hmac.Equal([]byte(signature), []byte(expectedHex)) &&
		!hmac.Equal([]byte(signature), []byte(expectedB64)) {
		return nil, ErrInvalidSignature
	}

	var payload struct {
		InvoiceID     json.Number `json:"InvoiceId"`
		TransactionID json.Number `json:"TransactionId"`
		Status        string      `json:"Status"`
	}
	dec := json.NewDecoder(bytes.NewReader(rawBody))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	orderID, err := payload.InvoiceID.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: InvoiceId отсутствует", ErrMalformedPayload)
	}

	return &WebhookResult{
		OrderID:           orderID,
		ProviderPaymentID: payload.TransactionID.String(),
		Status:            payload.Status,
		Paid:              isCloudPaymentsPaid(payload.Status),
	}, nil
}

// PollStatus спрашивает /payments/find по InvoiceId заказа. Сетевые сбои
// не фатальны: вернём nil и poll-воркер попробует в следующем цикле.
func (c *CloudPayments) PollStatus(ctx context.Context, order *orders.Order) (*WebhookResult, error) {
	if c.publicID == "" || c.apiSecret == "" {
		return nil, nil
	}

	body, err := json.Marshal(map[string]string{
		"InvoiceId": strconv.FormatInt(order.ID, 10),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal find request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/payments/find", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create find request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.publicID, c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("cloudpayments find недоступен", slog.Any("error", err))
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("cloudpayments find вернул ошибку", slog.Int("status", resp.StatusCode))
		return nil, nil
	}

	var parsed struct {
		Model struct {
			TransactionID json.Number `json:"TransactionId"`
			Status        string      `json:"Status"`
		} `json:"Model"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil, nil
	}

	return &WebhookResult{
		OrderID:           order.ID,
		ProviderPaymentID: parsed.Model.TransactionID.String(),
		Status:            parsed.Model.Status,
		Paid:              isCloudPaymentsPaid(parsed.Model.Status),
	}, nil
}

func findCloudPaymentsSignature(headers map[string]string) string {
	lowered := make(map[string]string, len(headers))
	for k, v := range headers {
		lowered[strings.ToLower(k)] = v
	}
	for _, key := range []string{"content-hmac", "x-content-hmac", "x-cloudpayments-signature"} {
		if v := lowered[key]; v != "" {
			return v
		}
	}
	return ""
}

func isCloudPaymentsPaid(status string) bool {
	switch strings.ToLower(status) {
	case "completed", "authorized", "paid", "success", "succeeded":
		return true
	}
	return false
}
