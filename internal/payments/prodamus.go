package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"numera-bot/internal/config"
	"numera-bot/internal/stories/orders"
)

// Prodamus (PayForm). Уведомления приходят form-encoded с PHP-скобочными
// ключами (products[0][name]=...), подпись — в заголовке Sign, HMAC-SHA256
// над канонизированным JSON payload'а. Активный опрос статуса провайдер
// не поддерживает, подтверждение идёт только через webhook.
type Prodamus struct {
	formURL       string
	unifiedKey    string
	webhookSecret string
	successURL    string
	returnURL     string
	webhookURL    string
	logger        *slog.Logger
}

func NewProdamus(cfg config.PaymentsConfig, logger *slog.Logger) *Prodamus {
	return &Prodamus{
		formURL:       strings.TrimRight(cfg.Prodamus.FormURL, "?"),
		unifiedKey:    cfg.Prodamus.UnifiedKey,
		webhookSecret: cfg.Prodamus.WebhookSecret,
		successURL:    cfg.SuccessURL,
		returnURL:     cfg.ReturnURL,
		webhookURL:    cfg.WebhookURL,
		logger:        logger,
	}
}

func (p *Prodamus) Name() orders.Provider {
	return orders.ProviderProdamus
}

func (p *Prodamus) PaymentLink(order *orders.Order, telegramUserID int64) (string, error) {
	if p.formURL == "" {
		return "", fmt.Errorf("prodamus form url не настроен")
	}

	params := url.Values{}
	params.Set("order_id", strconv.FormatInt(order.ID, 10))
	params.Set("products[0][name]", fmt.Sprintf("Нумерологический разбор %s", order.Tariff))
	params.Set("products[0][price]", fmt.Sprintf("%d.00", order.Amount))
	params.Set("products[0][quantity]", "1")
	if p.successURL != "" {
		params.Set("urlSuccess", p.successURL)
	}
	if p.returnURL != "" {
		params.Set("urlReturn", p.returnURL)
	}
	if p.webhookURL != "" {
		params.Set("urlNotification", p.webhookURL)
	}
	if p.unifiedKey != "" {
		params.Set("key", p.unifiedKey)
	}

	return p.formURL + "?" + params.Encode(), nil
}

// PollStatus не поддерживается PayForm API.
func (p *Prodamus) PollStatus(ctx context.Context, order *orders.Order) (*WebhookResult, error) {
	return nil, nil
}

func (p *Prodamus) secret() string {
	if p.webhookSecret != "" {
		return p.webhookSecret
	}
	return p.unifiedKey
}

func (p *Prodamus) VerifyWebhook(rawBody []byte, headers map[string]string) (*WebhookResult, error) {
	payload := parseProdamusPayload(rawBody)

	secret := p.secret()
	if secret == "" {
		p.logger.Warn("секрет Prodamus не настроен, подпись webhook не проверяется")
	} else {
		sig := findProdamusSignature(headers, payload)
		if sig == "" {
			// Совместимость: секрет внутри payload вместо подписи.
			if payloadString(payload, "secret") != secret {
				return nil, ErrMissingSignature
			}
		} else if !matchesProdamusSignature(sig, secret, payload, rawBody) {
			return nil, ErrInvalidSignature
		}
	}

	return extractProdamusWebhook(payload), nil
}

// Подпись ищем в заголовках (канонично — Sign), затем в самом payload.
func findProdamusSignature(headers map[string]string, payload map[string]interface{}) string {
	lowered := make(map[string]string, len(headers))
	for k, v := range headers {
		lowered[strings.ToLower(k)] = v
	}
	for _, key := range []string{"sign", "x-sign", "x-signature", "x-prodamus-signature", "x-prodamus-sign"} {
		if v := strings.TrimSpace(lowered[key]); v != "" {
			return v
		}
	}
	for _, key := range []string{"sign", "signature"} {
		if v := strings.TrimSpace(payloadString(payload, key)); v != "" {
			return v
		}
	}
	return ""
}

func matchesProdamusSignature(signature, secret string, payload map[string]interface{}, rawBody []byte) bool {
	sig := strings.ToLower(strings.TrimSpace(signature))
	if sig == "" {
		return false
	}

	canonical := canonicalProdamusSignature(secret, payload)
	if hmac.Equal([]byte(canonical), []byte(sig)) {
		return true
	}

	// Legacy: MD5(token + secret).
	if token := payloadString(payload, "token"); token != "" {
		legacy := md5.Sum([]byte(token + secret))
		if hmac.Equal([]byte(hex.EncodeToString(legacy[:])), []byte(sig)) {
			return true
		}
	}

	// Редкий вариант: base64 от того же HMAC-дайджеста.
	if digest, err := hex.DecodeString(canonical); err == nil {
		b64 := base64.StdEncoding.EncodeToString(digest)
		if hmac.Equal([]byte(b64), []byte(strings.TrimSpace(signature))) {
			return true
		}
	}

	// Ещё реже: HMAC-SHA256 по сырому телу.
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	raw := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(raw), []byte(sig))
}

// canonicalProdamusSignature — официальная схема подписи PayForm:
// значения приводятся к строкам, ключи сортируются на всех уровнях,
// JSON компактный, '/' экранируется как '\/'.
func canonicalProdamusSignature(secret string, payload map[string]interface{}) string {
	canonical := canonicalJSONForSign(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

func canonicalJSONForSign(payload map[string]interface{}) string {
	normalized := normalizeForSign(payload)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json сам сортирует ключи map на каждом уровне.
	if err := enc.Encode(normalized); err != nil {
		return ""
	}

	out := strings.TrimRight(buf.String(), "\n")
	return strings.ReplaceAll(out, "/", `\/`)
}

// normalizeForSign приводит значения к строкам по правилам PHP strval:
// true → "1", false → "", числа — как пришли в исходном тексте.
func normalizeForSign(obj interface{}) interface{} {
	switch v := obj.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			if item == nil {
				continue
			}
			out[k] = normalizeForSign(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, normalizeForSign(item))
		}
		return out
	case bool:
		if v {
			return "1"
		}
		return ""
	case json.Number:
		return v.String()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// parseProdamusPayload разбирает тело уведомления: JSON как есть,
// form-encoded — со сборкой PHP-скобочных ключей в вложенные структуры
// (это обязательно для корректной проверки подписи).
func parseProdamusPayload(rawBody []byte) map[string]interface{} {
	if len(rawBody) == 0 {
		return map[string]interface{}{}
	}

	stripped := bytes.TrimLeft(rawBody, " \t\r\n")
	if len(stripped) > 0 && (stripped[0] == '{' || stripped[0] == '[') {
		dec := json.NewDecoder(bytes.NewReader(rawBody))
		dec.UseNumber()
		var data interface{}
		if err := dec.Decode(&data); err == nil {
			if m, ok := data.(map[string]interface{}); ok {
				return m
			}
			return map[string]interface{}{"_": data}
		}
	}

	root := map[string]interface{}{}
	for _, pair := range parseFormPairs(string(rawBody)) {
		parts := splitBracketKey(pair[0])
		setByParts(root, parts, pair[1])
	}
	return pruneNil(root).(map[string]interface{})
}

// parseFormPairs сохраняет порядок пар: от него зависит сборка
// PHP-массивов с пустыми скобками (items[][name]).
func parseFormPairs(body string) [][2]string {
	var pairs [][2]string
	for _, part := range strings.Split(body, "&") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		key, err := url.QueryUnescape(kv[0])
		if err != nil {
			continue
		}
		var value string
		if len(kv) == 2 {
			if value, err = url.QueryUnescape(kv[1]); err != nil {
				continue
			}
		}
		pairs = append(pairs, [2]string{key, value})
	}
	return pairs
}

func splitBracketKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return []string{key}
	}
	parts := []string{key[:open]}
	rest := key[open:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			break
		}
		close := strings.IndexByte(rest, ']')
		if close < 0 {
			break
		}
		parts = append(parts, rest[1:close])
		rest = rest[close+1:]
	}
	return parts
}

func setByParts(root map[string]interface{}, parts []string, value string) {
	if len(parts) == 0 {
		return
	}
	part := parts[0]
	if len(parts) == 1 {
		root[part] = value
		return
	}
	child, ok := root[part]
	if !ok || child == nil {
		child = newBracketContainer(parts[1])
	}
	root[part] = setPath(child, parts[1:], value)
}

func setPath(cur interface{}, parts []string, value string) interface{} {
	part := parts[0]
	last := len(parts) == 1

	switch node := cur.(type) {
	case map[string]interface{}:
		if last {
			node[part] = value
			return node
		}
		child, ok := node[part]
		if !ok || child == nil {
			child = newBracketContainer(parts[1])
		}
		node[part] = setPath(child, parts[1:], value)
		return node

	case []interface{}:
		// Пустые скобки — append, как у PHP.
		if part == "" {
			if last {
				return append(node, value)
			}
			child := setPath(newBracketContainer(parts[1]), parts[1:], value)
			return append(node, child)
		}

		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 {
			idx = len(node)
		}
		for len(node) <= idx {
			node = append(node, nil)
		}
		if last {
			node[idx] = value
			return node
		}
		child := node[idx]
		if child == nil {
			child = newBracketContainer(parts[1])
		}
		node[idx] = setPath(child, parts[1:], value)
		return node

	default:
		return cur
	}
}

func newBracketContainer(nextPart string) interface{} {
	if nextPart == "" || isDigits(nextPart) {
		return []interface{}{}
	}
	return map[string]interface{}{}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func pruneNil(obj interface{}) interface{} {
	switch v := obj.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			if item == nil {
				continue
			}
			out[k] = pruneNil(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, pruneNil(item))
		}
		return out
	default:
		return obj
	}
}

func payloadString(payload map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func extractProdamusWebhook(payload map[string]interface{}) *WebhookResult {
	result := &WebhookResult{
		ProviderPaymentID: payloadString(payload, "payment_id", "invoice_id", "transaction_id"),
		Status:            payloadString(payload, "payment_status", "status"),
	}

	if raw := payloadString(payload, "order_id"); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			result.OrderID = id
		}
	}

	if paidFlag := payloadString(payload, "paid"); paidFlag != "" {
		result.Paid = isPaidValue(paidFlag)
	} else {
		result.Paid = isPaidStatus(result.Status)
	}

	return result
}

func isPaidStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid", "success", "succeeded", "ok", "completed", "1", "true", "yes":
		return true
	}
	return false
}

func isPaidValue(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "paid", "success", "ok":
		return true
	}
	return false
}
