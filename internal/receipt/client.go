// Package receipt предоставляет клиент для внешнего рендера чеков.
package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/khatapos-system/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом печати чеков.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// receiptItem — строка чека в формате сервиса печати.
type receiptItem struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Subtotal float64 `json:"subtotal"`
}

// receiptRequest — тело запроса к сервису печати. Раскладкой документа
// занимается сам сервис, здесь только данные продажи.
type receiptRequest struct {
	TransactionID string        `json:"transaction_id"`
	CreatedAt     string        `json:"created_at"`
	CustomerName  string        `json:"customer_name,omitempty"`
	PaymentMethod string        `json:"payment_method"`
	Items         []receiptItem `json:"items"`
	Subtotal      float64       `json:"subtotal"`
	Discount      float64       `json:"discount"`
	Tax           float64       `json:"tax"`
	Total         float64       `json:"total"`
	AmountPaid    float64       `json:"amount_paid"`
	Change        float64       `json:"change"`
}

// NewClient создаёт HTTP-клиент для обращения к сервису печати по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Print отправляет данные продажи на печать. Возвращает HTTP-статус ответа
// и задержку из заголовка Retry-After, если сервис перегружен.
func (c *Client) Print(ctx context.Context, t *model.Transaction) (int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return 0, 0, fmt.Errorf("receipt client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	payload := receiptRequest{
		TransactionID: t.ID,
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
		CustomerName:  t.CustomerName,
		PaymentMethod: string(t.PaymentMethod),
		Subtotal:      float64(t.SubtotalCents) / 100,
		Discount:      float64(t.DiscountCents) / 100,
		Tax:           float64(t.TaxCents) / 100,
		Total:         float64(t.TotalCents) / 100,
		AmountPaid:    float64(t.AmountPaidCents) / 100,
		Change:        float64(t.ChangeCents) / 100,
	}
	for _, item := range t.Items {
		payload.Items = append(payload.Items, receiptItem{
			Name:     item.Name,
			Price:    float64(item.PriceCents) / 100,
			Quantity: item.Quantity,
			Subtotal: float64(item.SubtotalCents) / 100,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal receipt: %w", err)
	}

	url := base + "/api/receipts"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return resp.StatusCode, retryAfter, nil
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return resp.StatusCode, 0, nil
}
