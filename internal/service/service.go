// Package service реализует бизнес-логику POS-системы: кассовые сессии,
// кредитные книжки клиентов и проведение продаж.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/khatapos-system/internal/cart"
	"github.com/mmeshcher/khatapos-system/internal/model"
	"github.com/mmeshcher/khatapos-system/internal/repository"
	"github.com/mmeshcher/khatapos-system/internal/validation"
)

// ErrEmptyCart возвращается при попытке провести продажу с пустой корзиной.
var (
	ErrEmptyCart = errors.New("cart is empty")
	// ErrCustomerRequired возвращается, если продажа в долг проводится без клиента.
	ErrCustomerRequired = errors.New("customer required for on-account sale")
	// ErrInsufficientPayment возвращается, если наличными внесено меньше суммы чека.
	ErrInsufficientPayment = errors.New("amount paid is less than total")
	// ErrInvalidPaymentMethod возвращается для неподдерживаемого способа оплаты.
	ErrInvalidPaymentMethod = errors.New("unsupported payment method")
	// ErrNotPermitted возвращается, когда у вызывающего нет права на операцию.
	ErrNotPermitted = errors.New("operation not permitted")
	// ErrInvalidAmount возвращается для неположительной суммы или количества.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrStockUnavailable возвращается, когда остатка товара не хватает.
	ErrStockUnavailable = errors.New("not enough stock")
	// ErrLineNotFound возвращается, если строки товара нет в корзине.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrInvalidInput возвращается для некорректных данных карточки.
	ErrInvalidInput = errors.New("invalid input")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, role string) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	CreateProduct(ctx context.Context, p *model.Product) (int64, error)
	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	UpdateProduct(ctx context.Context, p *model.Product) error
	DeleteProduct(ctx context.Context, id int64) error
	SearchProducts(ctx context.Context, query string) ([]model.Product, error)
	AdjustStock(ctx context.Context, id, delta int64, mode repository.AdjustMode, allowNegative bool) (*model.Product, error)
	CreateCustomer(ctx context.Context, c *model.Customer) (int64, error)
	GetCustomer(ctx context.Context, id int64) (*model.Customer, error)
	UpdateCustomer(ctx context.Context, c *model.Customer) error
	ListCustomers(ctx context.Context) ([]model.Customer, error)
	ChargeOnAccount(ctx context.Context, customerID, amountCents int64, transactionID string) error
	RecordPayment(ctx context.Context, customerID, amountCents int64) error
	GetLedgerEntries(ctx context.Context, customerID int64) ([]model.LedgerEntry, error)
	CreateTransaction(ctx context.Context, t *model.Transaction) error
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, limit int) ([]model.Transaction, error)
	VoidTransaction(ctx context.Context, id string) error
	GetUnprintedTransactions(ctx context.Context, limit int) ([]model.Transaction, error)
	MarkTransactionPrinted(ctx context.Context, id string) error
}

// Notifier описывает контракт рассылки уведомлений слою отображения.
// Рассылка носит рекомендательный характер и не даёт гарантий доставки.
type Notifier interface {
	Publish(eventType model.EventType, message string)
	Invalidate(scope string)
}

// Printer описывает контракт клиента внешнего рендера чеков.
type Printer interface {
	Print(ctx context.Context, t *model.Transaction) (int, time.Duration, error)
}

// Capabilities содержит заранее проверенные права вызывающего. Сервис сам
// ролевую логику не реализует и доверяет этим флагам.
type Capabilities struct {
	Discount    bool
	OnAccount   bool
	AdjustStock bool
	Void        bool
}

// Service содержит бизнес-логику POS-системы.
type Service struct {
	repo               Repository
	carts              *cart.Store
	printer            Printer
	notifier           Notifier
	logger             *zap.Logger
	allowNegativeStock bool
}

// NewService создаёт новый сервис. Клиент печати может быть nil, тогда чеки
// не отправляются.
func NewService(repo Repository, carts *cart.Store, printer Printer, notifier Notifier, logger *zap.Logger, allowNegativeStock bool) *Service {
	if carts == nil {
		carts = cart.NewStore()
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:               repo,
		carts:              carts,
		printer:            printer,
		notifier:           notifier,
		logger:             logger,
		allowNegativeStock: allowNegativeStock,
	}
}

type nopNotifier struct{}

func (nopNotifier) Publish(model.EventType, string) {}
func (nopNotifier) Invalidate(string)               {}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func toCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// RegisterUser регистрирует нового сотрудника с указанной ролью.
func (s *Service) RegisterUser(ctx context.Context, login, password, role string) (int64, error) {
	if role == "" {
		role = "cashier"
	}
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, role)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль сотрудника и возвращает его учётную запись.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, errors.New("invalid credentials")
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// ProductInput содержит данные карточки товара от вызывающего.
type ProductInput struct {
	Name     string
	SKU      string
	Category string
	Price    float64
	Stock    int64
	MinStock int64
}

func (in *ProductInput) normalize() error {
	in.Name = strings.TrimSpace(in.Name)
	in.SKU = strings.ToUpper(strings.TrimSpace(in.SKU))
	in.Category = strings.TrimSpace(in.Category)

	if in.Name == "" || !validation.IsValidSKU(in.SKU) {
		return ErrInvalidInput
	}
	if in.Price < 0 || in.Stock < 0 || in.MinStock < 0 {
		return ErrInvalidInput
	}
	return nil
}

// CreateProduct создаёт карточку товара.
func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (*model.Product, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	p := &model.Product{
		Name:       in.Name,
		SKU:        in.SKU,
		Category:   in.Category,
		PriceCents: toCents(in.Price),
		Stock:      in.Stock,
		MinStock:   in.MinStock,
	}

	id, err := s.repo.CreateProduct(ctx, p)
	if err != nil {
		return nil, err
	}

	s.notifier.Invalidate("products")
	return s.repo.GetProduct(ctx, id)
}

// UpdateProduct обновляет карточку товара. Остаток этой операцией не меняется.
func (s *Service) UpdateProduct(ctx context.Context, id int64, in ProductInput) (*model.Product, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}

	p := &model.Product{
		ID:         id,
		Name:       in.Name,
		SKU:        in.SKU,
		Category:   in.Category,
		PriceCents: toCents(in.Price),
		MinStock:   in.MinStock,
	}

	if err := s.repo.UpdateProduct(ctx, p); err != nil {
		return nil, err
	}

	s.notifier.Invalidate("products")
	return s.repo.GetProduct(ctx, id)
}

// DeleteProduct удаляет товар из каталога.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.notifier.Invalidate("products")
	return nil
}

// GetProduct возвращает товар по идентификатору.
func (s *Service) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// SearchProducts возвращает товары по подстроке имени, артикула или категории.
func (s *Service) SearchProducts(ctx context.Context, query string) ([]model.Product, error) {
	return s.repo.SearchProducts(ctx, strings.TrimSpace(query))
}

// AdjustStock вручную изменяет складской остаток товара. Требует права на
// корректировку склада.
func (s *Service) AdjustStock(ctx context.Context, id, delta int64, mode repository.AdjustMode, caps Capabilities) (*model.Product, error) {
	if !caps.AdjustStock {
		return nil, ErrNotPermitted
	}
	if delta <= 0 {
		return nil, ErrInvalidAmount
	}

	p, err := s.repo.AdjustStock(ctx, id, delta, mode, s.allowNegativeStock)
	if err != nil {
		return nil, err
	}

	if p.LowStock() {
		s.notifier.Publish(model.EventInfo, fmt.Sprintf("low stock: %s (%d left)", p.Name, p.Stock))
	}
	s.notifier.Invalidate("products")

	return p, nil
}

// CreateCustomer создаёт клиента с кредитным лимитом.
func (s *Service) CreateCustomer(ctx context.Context, name, phone string, creditLimit float64) (*model.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" || !validation.IsValidPhone(phone) || creditLimit < 0 {
		return nil, ErrInvalidInput
	}

	c := &model.Customer{
		Name:             name,
		Phone:            phone,
		CreditLimitCents: toCents(creditLimit),
	}

	id, err := s.repo.CreateCustomer(ctx, c)
	if err != nil {
		return nil, err
	}

	return s.repo.GetCustomer(ctx, id)
}

// UpdateCustomer обновляет карточку клиента. Долг этой операцией не меняется.
func (s *Service) UpdateCustomer(ctx context.Context, id int64, name, phone string, creditLimit float64) (*model.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" || !validation.IsValidPhone(phone) || creditLimit < 0 {
		return nil, ErrInvalidInput
	}

	c := &model.Customer{
		ID:               id,
		Name:             name,
		Phone:            phone,
		CreditLimitCents: toCents(creditLimit),
	}

	if err := s.repo.UpdateCustomer(ctx, c); err != nil {
		return nil, err
	}

	s.notifier.Invalidate("customers")
	return s.repo.GetCustomer(ctx, id)
}

// GetCustomer возвращает клиента по идентификатору.
func (s *Service) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// ListCustomers возвращает всех клиентов.
func (s *Service) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

// GetCustomerBalance возвращает долг клиента, его лимит и доступный остаток кредита.
func (s *Service) GetCustomerBalance(ctx context.Context, id int64) (*model.Balance, error) {
	c, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	return &model.Balance{
		Current:   float64(c.CreditCents) / 100,
		Limit:     float64(c.CreditLimitCents) / 100,
		Available: float64(c.CreditLimitCents-c.CreditCents) / 100,
	}, nil
}

// GetCustomerLedger возвращает историю кредитной книжки клиента.
func (s *Service) GetCustomerLedger(ctx context.Context, id int64) ([]model.LedgerEntry, error) {
	if _, err := s.repo.GetCustomer(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetLedgerEntries(ctx, id)
}

// RecordKhataPayment принимает платёж в погашение долга клиента.
func (s *Service) RecordKhataPayment(ctx context.Context, customerID int64, amount float64) error {
	amountCents := toCents(amount)
	if amountCents <= 0 {
		return ErrInvalidAmount
	}

	if err := s.repo.RecordPayment(ctx, customerID, amountCents); err != nil {
		return err
	}

	s.notifier.Publish(model.EventSuccess, fmt.Sprintf("payment of %.2f recorded", amount))
	s.notifier.Invalidate("customers")
	return nil
}

// AddToCart добавляет единицу товара в корзину кассира. Остаток проверяется
// по состоянию склада на момент вызова.
func (s *Service) AddToCart(ctx context.Context, cashierID, productID int64) error {
	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return err
	}

	c := s.carts.Get(cashierID)
	if !c.AddLine(p) {
		s.notifier.Publish(model.EventError, fmt.Sprintf("not enough stock: %s", p.Name))
		return ErrStockUnavailable
	}

	if p.LowStock() {
		s.notifier.Publish(model.EventInfo, fmt.Sprintf("low stock: %s (%d left)", p.Name, p.Stock))
	}

	return nil
}

// SetCartQuantity устанавливает количество по строке корзины. Ноль удаляет строку.
func (s *Service) SetCartQuantity(ctx context.Context, cashierID, productID, quantity int64) error {
	p, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return err
	}

	if quantity > p.Stock {
		return ErrStockUnavailable
	}

	c := s.carts.Get(cashierID)
	if !c.SetLineQuantity(productID, quantity, p.Stock) {
		return ErrLineNotFound
	}

	return nil
}

// RemoveFromCart удаляет строку товара из корзины кассира.
func (s *Service) RemoveFromCart(cashierID, productID int64) {
	s.carts.Get(cashierID).RemoveLine(productID)
}

// ClearCart очищает корзину кассира без проведения продажи.
func (s *Service) ClearCart(cashierID int64) {
	s.carts.Get(cashierID).Reset()
}

// SetCartCustomer привязывает клиента к текущей продаже; nil снимает привязку.
func (s *Service) SetCartCustomer(ctx context.Context, cashierID int64, customerID *int64) error {
	c := s.carts.Get(cashierID)

	if customerID == nil {
		c.SetCustomer(nil)
		return nil
	}

	cust, err := s.repo.GetCustomer(ctx, *customerID)
	if err != nil {
		return err
	}

	c.SetCustomer(cust)
	return nil
}

// SetCartDiscount устанавливает процент скидки. Требует права на скидку.
func (s *Service) SetCartDiscount(cashierID int64, pct float64, caps Capabilities) error {
	if !caps.Discount {
		return ErrNotPermitted
	}
	s.carts.Get(cashierID).SetDiscountRate(pct)
	return nil
}

// SetCartTax устанавливает процент налога для текущей продажи.
func (s *Service) SetCartTax(cashierID int64, pct float64) {
	s.carts.Get(cashierID).SetTaxRate(pct)
}

// CartView — состояние корзины кассира для слоя отображения.
type CartView struct {
	Lines        []cart.Line
	Customer     *model.Customer
	DiscountRate float64
	TaxRate      float64
	Totals       model.Totals
}

// GetCart возвращает текущее состояние корзины кассира. Суммы
// пересчитываются при каждом вызове.
func (s *Service) GetCart(cashierID int64) CartView {
	c := s.carts.Get(cashierID)
	return CartView{
		Lines:        c.Lines(),
		Customer:     c.Customer(),
		DiscountRate: c.DiscountRate(),
		TaxRate:      c.TaxRate(),
		Totals:       c.Totals(),
	}
}

// CheckoutRequest — параметры оплаты при проведении продажи.
type CheckoutRequest struct {
	Method     model.PaymentMethod
	AmountPaid float64
}

// Checkout проводит продажу: проверяет корзину и оплату, при продаже в долг
// списывает сумму на кхату клиента, затем списывает складские остатки и
// сохраняет неизменяемую запись о продаже. Отказ на этапе проверки не
// оставляет никаких следов: ни склад, ни кредитная книжка, ни журнал продаж
// не меняются.
func (s *Service) Checkout(ctx context.Context, cashierID int64, req CheckoutRequest, caps Capabilities) (*model.Transaction, error) {
	c := s.carts.Get(cashierID)
	if c.Empty() {
		return nil, ErrEmptyCart
	}
	if !req.Method.Valid() {
		return nil, ErrInvalidPaymentMethod
	}

	totals := c.Totals()
	lines := c.Lines()
	customer := c.Customer()

	t := &model.Transaction{
		ID:            uuid.NewString(),
		PaymentMethod: req.Method,
		SubtotalCents: totals.SubtotalCents,
		DiscountCents: totals.DiscountCents,
		TaxCents:      totals.TaxCents,
		TotalCents:    totals.TotalCents,
		Status:        model.TransactionCompleted,
		CreatedAt:     time.Now(),
	}
	for _, l := range lines {
		t.Items = append(t.Items, model.TransactionItem{
			ProductID:     l.ProductID,
			Name:          l.Name,
			PriceCents:    l.PriceCents,
			Quantity:      l.Quantity,
			SubtotalCents: l.PriceCents * l.Quantity,
		})
	}
	if customer != nil {
		id := customer.ID
		t.CustomerID = &id
		t.CustomerName = customer.Name
	}

	switch req.Method {
	case model.PaymentOnAccount:
		if customer == nil {
			return nil, ErrCustomerRequired
		}
		if !caps.OnAccount {
			return nil, ErrNotPermitted
		}
		if err := s.repo.ChargeOnAccount(ctx, customer.ID, totals.TotalCents, t.ID); err != nil {
			return nil, err
		}
		t.Status = model.TransactionPending
	case model.PaymentCash:
		paid := toCents(req.AmountPaid)
		if paid < totals.TotalCents {
			return nil, ErrInsufficientPayment
		}
		t.AmountPaidCents = paid
		t.ChangeCents = paid - totals.TotalCents
	default:
		// Карта и мобильный платёж уже подтверждены внешним терминалом.
		t.AmountPaidCents = totals.TotalCents
	}

	// Остатки списываются построчно и не откатываются при частичном сбое.
	// Повторная проверка остатка здесь не выполняется: он проверялся при
	// добавлении в корзину, а параллельное изменение с другой кассы —
	// принятое ограничение.
	var failed []string
	for _, l := range lines {
		if _, err := s.repo.AdjustStock(ctx, l.ProductID, l.Quantity, repository.AdjustSubtract, s.allowNegativeStock); err != nil {
			failed = append(failed, l.Name)
			s.logger.Error("inventory adjustment failed during checkout",
				zap.String("transaction", t.ID),
				zap.Int64("product", l.ProductID),
				zap.Error(err),
			)
		}
	}
	if len(failed) > 0 {
		s.notifier.Publish(model.EventError,
			fmt.Sprintf("stock partially applied for sale %s, manual reconciliation required: %s",
				t.ID, strings.Join(failed, ", ")))
	}

	if err := s.repo.CreateTransaction(ctx, t); err != nil {
		s.logger.Error("transaction record failed after ledger mutation",
			zap.String("transaction", t.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	c.Reset()

	s.notifier.Publish(model.EventSuccess, fmt.Sprintf("sale %s completed, total %.2f", t.ID, float64(t.TotalCents)/100))
	s.notifier.Invalidate("products")
	if req.Method == model.PaymentOnAccount {
		s.notifier.Invalidate("customers")
	}

	return t, nil
}

// GetTransaction возвращает запись о продаже.
func (s *Service) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions возвращает последние продажи.
func (s *Service) ListTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListTransactions(ctx, limit)
}

// VoidTransaction отменяет завершённую продажу. Требует права на отмену.
func (s *Service) VoidTransaction(ctx context.Context, id string, caps Capabilities) error {
	if !caps.Void {
		return ErrNotPermitted
	}
	if err := s.repo.VoidTransaction(ctx, id); err != nil {
		return err
	}
	s.notifier.Invalidate("transactions")
	return nil
}

// StartReceiptDispatch запускает фоновую отправку чеков внешнему рендеру.
func (s *Service) StartReceiptDispatch(ctx context.Context) {
	if s.printer == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.dispatchReceiptBatch(ctx)
			}
		}
	}()
}

func (s *Service) dispatchReceiptBatch(ctx context.Context) {
	txs, err := s.repo.GetUnprintedTransactions(ctx, 100)
	if err != nil {
		return
	}

	for i := range txs {
		statusCode, retryAfter, err := s.printer.Print(ctx, &txs[i])
		if err != nil {
			continue
		}

		if statusCode == 429 {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		_ = s.repo.MarkTransactionPrinted(ctx, txs[i].ID)
	}
}
