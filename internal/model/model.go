// Package model содержит доменные сущности POS-системы.
package model

import "time"

// User представляет сотрудника магазина, работающего за кассой.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         string
	CreatedAt    time.Time
}

// Product описывает товар каталога и его текущий складской остаток.
type Product struct {
	ID         int64
	Name       string
	SKU        string
	Category   string
	PriceCents int64
	Stock      int64
	MinStock   int64
	CreatedAt  time.Time
}

// LowStock сообщает, опустился ли остаток товара до минимального порога.
func (p *Product) LowStock() bool {
	return p.Stock <= p.MinStock
}

// Customer представляет клиента с кредитной книжкой (кхатой).
type Customer struct {
	ID               int64
	Name             string
	Phone            string
	CreditLimitCents int64
	CreditCents      int64
	CreatedAt        time.Time
}

// Balance содержит текущий долг клиента, кредитный лимит и доступный остаток.
type Balance struct {
	Current   float64 `json:"current"`
	Limit     float64 `json:"limit"`
	Available float64 `json:"available"`
}

// PaymentMethod описывает способ оплаты продажи.
type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "cash"
	PaymentCard      PaymentMethod = "card"
	PaymentMobile    PaymentMethod = "mobile"
	PaymentOnAccount PaymentMethod = "on-account"
)

// Valid проверяет, что способ оплаты входит в число поддерживаемых.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobile, PaymentOnAccount:
		return true
	}
	return false
}

// TransactionStatus описывает статус записи о продаже.
type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionPending   TransactionStatus = "pending"
	TransactionVoided    TransactionStatus = "voided"
)

// TransactionItem — снимок строки корзины на момент продажи.
type TransactionItem struct {
	ProductID     int64
	Name          string
	PriceCents    int64
	Quantity      int64
	SubtotalCents int64
}

// Transaction — запись о завершённой продаже. После создания состав и
// суммы неизменны, меняться может только статус и отметка об отмене.
type Transaction struct {
	ID              string
	Items           []TransactionItem
	CustomerID      *int64
	CustomerName    string
	PaymentMethod   PaymentMethod
	AmountPaidCents int64
	ChangeCents     int64
	SubtotalCents   int64
	DiscountCents   int64
	TaxCents        int64
	TotalCents      int64
	Status          TransactionStatus
	VoidedAt        *time.Time
	CreatedAt       time.Time
}

// Totals содержит вычисленные суммы корзины в копейках.
type Totals struct {
	SubtotalCents int64
	DiscountCents int64
	TaxCents      int64
	TotalCents    int64
}

// LedgerEntryType описывает тип записи в кредитной книжке клиента.
type LedgerEntryType string

const (
	LedgerEntryKhata   LedgerEntryType = "khata"
	LedgerEntryPayment LedgerEntryType = "payment"
)

// LedgerEntry — запись в истории кредитной книжки клиента (только добавление).
type LedgerEntry struct {
	ID            int64
	CustomerID    int64
	Type          LedgerEntryType
	AmountCents   int64
	TransactionID *string
	CreatedAt     time.Time
}

// EventType описывает тип уведомления для отображения оператору.
type EventType string

const (
	EventInfo    EventType = "info"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
)

// Event — структурированное уведомление для слоя отображения.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}
