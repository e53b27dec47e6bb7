package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"numera-bot/internal/config"
)

func newTestCloudPayments(apiBaseURL string) *CloudPayments {
	return NewCloudPayments(config.CloudPaymentsConfig{
		PublicID:   "pk_test",
		APISecret:  "cp-secret",
		APIBaseURL: apiBaseURL,
		WidgetURL:  "https://widget.cloudpayments.ru/",
	}, discardLogger())
}

func signCloudPayments(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func TestCloudPaymentsVerifyWebhook(t *testing.T) {
	c := newTestCloudPayments("https://api.cloudpayments.ru")

	body := []byte(`{"InvoiceId":42,"TransactionId":100500,"Status":"Completed"}`)
	digest := signCloudPayments("cp-secret", body)

	tests := []struct {
		name      string
		signature string
		header    string
	}{
		{"base64 in Content-HMAC", base64.StdEncoding.EncodeToString(digest), "Content-HMAC"},
		{"hex in X-Content-HMAC", hex.EncodeToString(digest), "X-Content-HMAC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := c.VerifyWebhook(body, map[string]string{tt.header: tt.signature})
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if result.OrderID != 42 || result.ProviderPaymentID != "100500" || !result.Paid {
				t.Fatalf("result = %+v", result)
			}
		})
	}
}

func TestCloudPaymentsVerifyWebhookRejects(t *testing.T) {
	c := newTestCloudPayments("https://api.cloudpayments.ru")

	body := []byte(`{"InvoiceId":42,"Status":"Completed"}`)

	if _, err := c.VerifyWebhook(body, map[string]string{}); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("no signature err = %v, want ErrMissingSignature", err)
	}

	wrong := base64.StdEncoding.EncodeToString(signCloudPayments("other-secret", body))
	if _, err := c.VerifyWebhook(body, map[string]string{"Content-HMAC": wrong}); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("bad signature err = %v, want ErrInvalidSignature", err)
	}

	malformed := []byte(`{"Status":"Completed"}`)
	sig := base64.StdEncoding.EncodeToString(signCloudPayments("cp-secret", malformed))
	if _, err := c.VerifyWebhook(malformed, map[string]string{"Content-HMAC": sig}); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("malformed err = %v, want ErrMalformedPayload", err)
	}
}

func TestCloudPaymentsPollStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payments/find" {
			t.Errorf("path = %s, want /payments/find", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "pk_test" || pass != "cp-secret" {
			t.Errorf("basic auth = %s/%s", user, pass)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Model":{"TransactionId":100500,"Status":"Completed"},"Success":true}`))
	}))
	defer srv.Close()

	c := newTestCloudPayments(srv.URL)

	result, err := c.PollStatus(context.Background(), testOrder(42, 990))
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result == nil || result.OrderID != 42 || result.ProviderPaymentID != "100500" || !result.Paid {
		t.Fatalf("result = %+v", result)
	}
}

func TestCloudPaymentsPollStatusSoftFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestCloudPayments(srv.URL)
	result, err := c.PollStatus(context.Background(), testOrder(42, 990))
	if err != nil || result != nil {
		t.Fatalf("5xx poll = %+v/%v, want nil/nil", result, err)
	}

	// Провайдер недоступен целиком — тоже не ошибка воркера.
	srv.Close()
	result, err = c.PollStatus(context.Background(), testOrder(42, 990))
	if err != nil || result != nil {
		t.Fatalf("network failure poll = %+v/%v, want nil/nil", result, err)
	}
}

func TestCloudPaymentsPaymentLink(t *testing.T) {
	c := newTestCloudPayments("https://api.cloudpayments.ru")

	link, err := c.PaymentLink(testOrder(42, 1990), 777)
	if err != nil {
		t.Fatalf("payment link: %v", err)
	}
	for _, want := range []string{
		"https://widget.cloudpayments.ru/?",
		"publicId=pk_test",
		"invoiceId=42",
		"1990.00",
		"accountId=777",
		"currency=RUB",
	} {
		if !strings.Contains(link, want) {
			t.Fatalf("link %q misses %q", link, want)
		}
	}
}

func TestRegistry(t *testing.T) {
	cfg := config.PaymentsConfig{
		Primary:       "cloudpayments",
		Prodamus:      config.ProdamusConfig{FormURL: "https://shop.payform.ru"},
		CloudPayments: config.CloudPaymentsConfig{PublicID: "pk", APISecret: "s"},
	}

	r, err := NewRegistry(cfg, discardLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if got := r.Primary().Name(); got != "cloudpayments" {
		t.Errorf("primary = %s", got)
	}
	if got := r.Fallback().Name(); got != "prodamus" {
		t.Errorf("fallback = %s", got)
	}
	if len(r.All()) != 2 {
		t.Errorf("all = %d providers, want 2", len(r.All()))
	}
	if _, err := r.ByName("prodamus"); err != nil {
		t.Errorf("by name: %v", err)
	}
	if _, err := r.ByName("stripe"); err == nil {
		t.Errorf("unknown provider: expected error")
	}

	if _, err := NewRegistry(config.PaymentsConfig{Primary: "stripe"}, discardLogger()); err == nil {
		t.Errorf("unknown primary: expected error")
	}
}
