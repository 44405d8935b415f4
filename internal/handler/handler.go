// Package handler содержит HTTP-обработчики API POS-системы.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/khatapos-system/internal/middleware"
	"github.com/mmeshcher/khatapos-system/internal/model"
	"github.com/mmeshcher/khatapos-system/internal/repository"
	"github.com/mmeshcher/khatapos-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password, role string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)

	CreateProduct(ctx context.Context, in service.ProductInput) (*model.Product, error)
	UpdateProduct(ctx context.Context, id int64, in service.ProductInput) (*model.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	SearchProducts(ctx context.Context, query string) ([]model.Product, error)
	AdjustStock(ctx context.Context, id, delta int64, mode repository.AdjustMode, caps service.Capabilities) (*model.Product, error)

	CreateCustomer(ctx context.Context, name, phone string, creditLimit float64) (*model.Customer, error)
	UpdateCustomer(ctx context.Context, id int64, name, phone string, creditLimit float64) (*model.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	ListCustomers(ctx context.Context) ([]model.Customer, error)
	GetCustomerBalance(ctx context.Context, id int64) (*model.Balance, error)
	GetCustomerLedger(ctx context.Context, id int64) ([]model.LedgerEntry, error)
	RecordKhataPayment(ctx context.Context, customerID int64, amount float64) error

	GetCart(cashierID int64) service.CartView
	ClearCart(cashierID int64)
	AddToCart(ctx context.Context, cashierID, productID int64) error
	SetCartQuantity(ctx context.Context, cashierID, productID, quantity int64) error
	RemoveFromCart(cashierID, productID int64)
	SetCartCustomer(ctx context.Context, cashierID int64, customerID *int64) error
	SetCartDiscount(cashierID int64, pct float64, caps service.Capabilities) error
	SetCartTax(cashierID int64, pct float64)
	Checkout(ctx context.Context, cashierID int64, req service.CheckoutRequest, caps service.Capabilities) (*model.Transaction, error)

	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]model.Transaction, error)
	VoidTransaction(ctx context.Context, id string, caps service.Capabilities) error
}

// Handler реализует HTTP-обработчики API POS-системы.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// capabilitiesForRole переводит роль сотрудника в набор прав. Ядро ролевой
// логики не знает и получает уже проверенные флаги.
func capabilitiesForRole(role string) service.Capabilities {
	switch role {
	case "admin":
		return service.Capabilities{Discount: true, OnAccount: true, AdjustStock: true, Void: true}
	case "manager":
		return service.Capabilities{Discount: true, OnAccount: true, AdjustStock: true}
	default:
		return service.Capabilities{OnAccount: true}
	}
}

// writeError переводит ошибки ядра в HTTP-статусы. Неожиданные ошибки
// логируются и отдаются как 500.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	var status int
	switch {
	case errors.Is(err, repository.ErrProductNotFound),
		errors.Is(err, repository.ErrCustomerNotFound),
		errors.Is(err, repository.ErrTransactionNotFound),
		errors.Is(err, service.ErrLineNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrCreditLimitExceeded),
		errors.Is(err, service.ErrInsufficientPayment):
		status = http.StatusPaymentRequired
	case errors.Is(err, repository.ErrOverpayment),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidInput):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, service.ErrCustomerRequired),
		errors.Is(err, service.ErrInvalidPaymentMethod):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrStockUnavailable),
		errors.Is(err, repository.ErrSKUExists),
		errors.Is(err, repository.ErrTransactionVoided),
		errors.Is(err, repository.ErrTransactionPending):
		status = http.StatusConflict
	case errors.Is(err, service.ErrNotPermitted):
		status = http.StatusForbidden
	default:
		h.logger.Error(op, zap.Error(err))
		status = http.StatusInternalServerError
	}
	http.Error(w, http.StatusText(status), status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return id, ok
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// Register обрабатывает регистрацию нового сотрудника.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	role := req.Role
	if role == "" {
		role = "cashier"
	}
	h.authMiddleware.SetAuthCookie(w, userID, role)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию сотрудника и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || err.Error() == "invalid credentials" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, u.ID, u.Role)
	w.WriteHeader(http.StatusOK)
}

type productRequest struct {
	Name     string  `json:"name"`
	SKU      string  `json:"sku"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	Stock    int64   `json:"stock"`
	MinStock int64   `json:"min_stock"`
}

func (req productRequest) input() service.ProductInput {
	return service.ProductInput{
		Name:     req.Name,
		SKU:      req.SKU,
		Category: req.Category,
		Price:    req.Price,
		Stock:    req.Stock,
		MinStock: req.MinStock,
	}
}

type productResponse struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	SKU      string  `json:"sku"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	Stock    int64   `json:"stock"`
	MinStock int64   `json:"min_stock"`
	LowStock bool    `json:"low_stock"`
}

func toProductResponse(p *model.Product) productResponse {
	return productResponse{
		ID:       p.ID,
		Name:     p.Name,
		SKU:      p.SKU,
		Category: p.Category,
		Price:    float64(p.PriceCents) / 100,
		Stock:    p.Stock,
		MinStock: p.MinStock,
		LowStock: p.LowStock(),
	}
}

// CreateProduct создаёт карточку товара.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.CreateProduct(r.Context(), req.input())
	if err != nil {
		h.writeError(w, err, "create product error")
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, toProductResponse(p))
}

// SearchProducts возвращает товары по строке поиска из параметра q.
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.SearchProducts(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, err, "search products error")
		return
	}

	resp := make([]productResponse, 0, len(products))
	for i := range products {
		resp = append(resp, toProductResponse(&products[i]))
	}

	writeJSON(w, resp)
}

// GetProduct возвращает карточку товара.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get product error")
		return
	}

	writeJSON(w, toProductResponse(p))
}

// UpdateProduct обновляет карточку товара.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.UpdateProduct(r.Context(), id, req.input())
	if err != nil {
		h.writeError(w, err, "update product error")
		return
	}

	writeJSON(w, toProductResponse(p))
}

// DeleteProduct удаляет товар из каталога.
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteProduct(r.Context(), id); err != nil {
		h.writeError(w, err, "delete product error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type adjustStockRequest struct {
	Delta int64  `json:"delta"`
	Mode  string `json:"mode"`
}

// AdjustStock вручную изменяет складской остаток товара.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req adjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	mode := repository.AdjustMode(req.Mode)
	if mode != repository.AdjustAdd && mode != repository.AdjustSubtract {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	p, err := h.service.AdjustStock(r.Context(), id, req.Delta, mode, capabilitiesForRole(ident.Role))
	if err != nil {
		h.writeError(w, err, "adjust stock error")
		return
	}

	writeJSON(w, toProductResponse(p))
}

type customerRequest struct {
	Name        string  `json:"name"`
	Phone       string  `json:"phone"`
	CreditLimit float64 `json:"credit_limit"`
}

type customerResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Phone       string  `json:"phone"`
	CreditLimit float64 `json:"credit_limit"`
	Credit      float64 `json:"credit"`
}

func toCustomerResponse(c *model.Customer) customerResponse {
	return customerResponse{
		ID:          c.ID,
		Name:        c.Name,
		Phone:       c.Phone,
		CreditLimit: float64(c.CreditLimitCents) / 100,
		Credit:      float64(c.CreditCents) / 100,
	}
}

// CreateCustomer создаёт клиента.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.CreateCustomer(r.Context(), req.Name, req.Phone, req.CreditLimit)
	if err != nil {
		h.writeError(w, err, "create customer error")
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, toCustomerResponse(c))
}

// ListCustomers возвращает всех клиентов.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.service.ListCustomers(r.Context())
	if err != nil {
		h.writeError(w, err, "list customers error")
		return
	}

	resp := make([]customerResponse, 0, len(customers))
	for i := range customers {
		resp = append(resp, toCustomerResponse(&customers[i]))
	}

	writeJSON(w, resp)
}

// GetCustomer возвращает карточку клиента.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.GetCustomer(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get customer error")
		return
	}

	writeJSON(w, toCustomerResponse(c))
}

// UpdateCustomer обновляет карточку клиента.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.UpdateCustomer(r.Context(), id, req.Name, req.Phone, req.CreditLimit)
	if err != nil {
		h.writeError(w, err, "update customer error")
		return
	}

	writeJSON(w, toCustomerResponse(c))
}

// GetCustomerBalance возвращает долг клиента, лимит и доступный кредит.
func (h *Handler) GetCustomerBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	balance, err := h.service.GetCustomerBalance(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get customer balance error")
		return
	}

	writeJSON(w, balance)
}

type ledgerEntryResponse struct {
	ID            int64   `json:"id"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	TransactionID *string `json:"transaction_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// GetCustomerLedger возвращает историю кредитной книжки клиента.
func (h *Handler) GetCustomerLedger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	entries, err := h.service.GetCustomerLedger(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get customer ledger error")
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, ledgerEntryResponse{
			ID:            e.ID,
			Type:          string(e.Type),
			Amount:        float64(e.AmountCents) / 100,
			TransactionID: e.TransactionID,
			CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, resp)
}

type paymentRequest struct {
	Amount float64 `json:"amount"`
}

// RecordKhataPayment принимает платёж в погашение долга клиента.
func (h *Handler) RecordKhataPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RecordKhataPayment(r.Context(), id, req.Amount); err != nil {
		h.writeError(w, err, "record khata payment error")
		return
	}

	w.WriteHeader(http.StatusOK)
}

type cartLineResponse struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int64   `json:"quantity"`
	Subtotal  float64 `json:"subtotal"`
}

type cartResponse struct {
	Lines        []cartLineResponse `json:"lines"`
	Customer     *customerResponse  `json:"customer,omitempty"`
	DiscountRate float64            `json:"discount_rate"`
	TaxRate      float64            `json:"tax_rate"`
	Subtotal     float64            `json:"subtotal"`
	Discount     float64            `json:"discount"`
	Tax          float64            `json:"tax"`
	Total        float64            `json:"total"`
}

func toCartResponse(view service.CartView) cartResponse {
	resp := cartResponse{
		Lines:        make([]cartLineResponse, 0, len(view.Lines)),
		DiscountRate: view.DiscountRate,
		TaxRate:      view.TaxRate,
		Subtotal:     float64(view.Totals.SubtotalCents) / 100,
		Discount:     float64(view.Totals.DiscountCents) / 100,
		Tax:          float64(view.Totals.TaxCents) / 100,
		Total:        float64(view.Totals.TotalCents) / 100,
	}
	for _, l := range view.Lines {
		resp.Lines = append(resp.Lines, cartLineResponse{
			ProductID: l.ProductID,
			Name:      l.Name,
			Price:     float64(l.PriceCents) / 100,
			Quantity:  l.Quantity,
			Subtotal:  float64(l.PriceCents*l.Quantity) / 100,
		})
	}
	if view.Customer != nil {
		c := toCustomerResponse(view.Customer)
		resp.Customer = &c
	}
	return resp
}

// GetCart возвращает состояние корзины текущего кассира.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	writeJSON(w, toCartResponse(h.service.GetCart(ident.UserID)))
}

// ClearCart очищает корзину текущего кассира.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	h.service.ClearCart(ident.UserID)
	w.WriteHeader(http.StatusNoContent)
}

type addItemRequest struct {
	ProductID int64 `json:"product_id"`
}

// AddCartItem добавляет единицу товара в корзину текущего кассира.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AddToCart(r.Context(), ident.UserID, req.ProductID); err != nil {
		h.writeError(w, err, "add cart item error")
		return
	}

	writeJSON(w, toCartResponse(h.service.GetCart(ident.UserID)))
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

// SetCartItemQuantity устанавливает количество по строке корзины.
func (h *Handler) SetCartItemQuantity(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetCartQuantity(r.Context(), ident.UserID, id, req.Quantity); err != nil {
		h.writeError(w, err, "set cart quantity error")
		return
	}

	writeJSON(w, toCartResponse(h.service.GetCart(ident.UserID)))
}

// RemoveCartItem удаляет строку товара из корзины.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.service.RemoveFromCart(ident.UserID, id)
	writeJSON(w, toCartResponse(h.service.GetCart(ident.UserID)))
}

type setCustomerRequest struct {
	CustomerID *int64 `json:"customer_id"`
}

// SetCartCustomer привязывает клиента к текущей продаже; null снимает привязку.
func (h *Handler) SetCartCustomer(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req setCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetCartCustomer(r.Context(), ident.UserID, req.CustomerID); err != nil {
		h.writeError(w, err, "set cart customer error")
		return
	}

	writeJSON(w, toCartResponse(h.service.GetCart(ident.UserID)))
}

type rateRequest struct {
	Rate float64 `json:"rate"`
}

// SetCartDiscount устанавливает процент скидки для текущей продажи.
func (h *Handler) SetCartDiscount(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.SetCartDiscount(ident.UserID, req.Rate, capabilitiesForRole(ident.Role)); err != nil {
		h.writeError(w, err, "set cart discount error")
		return
	}

	writeJSON(w, toCartResponse(h.service.GetCart(ident.UserID)))
}

// SetCartTax устанавливает процент налога для текущей продажи.
func (h *Handler) SetCartTax(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.service.SetCartTax(ident.UserID, req.Rate)
	writeJSON(w, toCartResponse(h.service.GetCart(ident.UserID)))
}

type checkoutRequest struct {
	PaymentMethod string  `json:"payment_method"`
	AmountPaid    float64 `json:"amount_paid"`
}

type transactionItemResponse struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int64   `json:"quantity"`
	Subtotal  float64 `json:"subtotal"`
}

type transactionResponse struct {
	ID            string                    `json:"id"`
	Items         []transactionItemResponse `json:"items"`
	CustomerID    *int64                    `json:"customer_id,omitempty"`
	CustomerName  string                    `json:"customer_name,omitempty"`
	PaymentMethod string                    `json:"payment_method"`
	AmountPaid    float64                   `json:"amount_paid"`
	Change        float64                   `json:"change"`
	Subtotal      float64                   `json:"subtotal"`
	Discount      float64                   `json:"discount"`
	Tax           float64                   `json:"tax"`
	Total         float64                   `json:"total"`
	Status        string                    `json:"status"`
	VoidedAt      *string                   `json:"voided_at,omitempty"`
	CreatedAt     string                    `json:"created_at"`
}

func toTransactionResponse(t *model.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:            t.ID,
		Items:         make([]transactionItemResponse, 0, len(t.Items)),
		CustomerID:    t.CustomerID,
		CustomerName:  t.CustomerName,
		PaymentMethod: string(t.PaymentMethod),
		AmountPaid:    float64(t.AmountPaidCents) / 100,
		Change:        float64(t.ChangeCents) / 100,
		Subtotal:      float64(t.SubtotalCents) / 100,
		Discount:      float64(t.DiscountCents) / 100,
		Tax:           float64(t.TaxCents) / 100,
		Total:         float64(t.TotalCents) / 100,
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
	}
	for _, item := range t.Items {
		resp.Items = append(resp.Items, transactionItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     float64(item.PriceCents) / 100,
			Quantity:  item.Quantity,
			Subtotal:  float64(item.SubtotalCents) / 100,
		})
	}
	if t.VoidedAt != nil {
		v := t.VoidedAt.Format(time.RFC3339)
		resp.VoidedAt = &v
	}
	return resp
}

// Checkout проводит продажу из корзины текущего кассира.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.Checkout(r.Context(), ident.UserID, service.CheckoutRequest{
		Method:     model.PaymentMethod(req.PaymentMethod),
		AmountPaid: req.AmountPaid,
	}, capabilitiesForRole(ident.Role))
	if err != nil {
		h.writeError(w, err, "checkout error")
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, toTransactionResponse(t))
}

// ListTransactions возвращает последние продажи.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	transactions, err := h.service.ListTransactions(r.Context(), limit)
	if err != nil {
		h.writeError(w, err, "list transactions error")
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for i := range transactions {
		resp = append(resp, toTransactionResponse(&transactions[i]))
	}

	writeJSON(w, resp)
}

// GetTransaction возвращает запись о продаже.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err, "get transaction error")
		return
	}

	writeJSON(w, toTransactionResponse(t))
}

// VoidTransaction отменяет завершённую продажу.
func (h *Handler) VoidTransaction(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity(w, r)
	if !ok {
		return
	}

	if err := h.service.VoidTransaction(r.Context(), chi.URLParam(r, "id"), capabilitiesForRole(ident.Role)); err != nil {
		h.writeError(w, err, "void transaction error")
		return
	}

	w.WriteHeader(http.StatusOK)
}
