package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/khatapos-system/internal/cart"
	"github.com/mmeshcher/khatapos-system/internal/model"
	"github.com/mmeshcher/khatapos-system/internal/repository"
)

type adjustCall struct {
	productID int64
	delta     int64
	mode      repository.AdjustMode
}

type stubRepo struct {
	products  map[int64]*model.Product
	customers map[int64]*model.Customer

	adjustCalls []adjustCall
	adjustErr   error

	chargeErr    error
	chargeCalls  int
	chargedTotal int64

	paymentErr   error
	paymentCalls int

	createdTransactions []model.Transaction
	createTxErr         error

	unprinted  []model.Transaction
	printedIDs []string
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte, role string) (int64, error) {
	return 1, nil
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) CreateProduct(ctx context.Context, p *model.Product) (int64, error) {
	return p.ID, nil
}

func (s *stubRepo) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubRepo) UpdateProduct(ctx context.Context, p *model.Product) error { return nil }
func (s *stubRepo) DeleteProduct(ctx context.Context, id int64) error         { return nil }

func (s *stubRepo) SearchProducts(ctx context.Context, query string) ([]model.Product, error) {
	return nil, nil
}

func (s *stubRepo) AdjustStock(ctx context.Context, id, delta int64, mode repository.AdjustMode, allowNegative bool) (*model.Product, error) {
	s.adjustCalls = append(s.adjustCalls, adjustCall{productID: id, delta: delta, mode: mode})
	if s.adjustErr != nil {
		return nil, s.adjustErr
	}
	p, ok := s.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	if mode == repository.AdjustSubtract {
		p.Stock -= delta
		if p.Stock < 0 && !allowNegative {
			p.Stock = 0
		}
	} else {
		p.Stock += delta
	}
	cp := *p
	return &cp, nil
}

func (s *stubRepo) CreateCustomer(ctx context.Context, c *model.Customer) (int64, error) {
	return c.ID, nil
}

func (s *stubRepo) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	c, ok := s.customers[id]
	if !ok {
		return nil, repository.ErrCustomerNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *stubRepo) UpdateCustomer(ctx context.Context, c *model.Customer) error { return nil }

func (s *stubRepo) ListCustomers(ctx context.Context) ([]model.Customer, error) { return nil, nil }

func (s *stubRepo) ChargeOnAccount(ctx context.Context, customerID, amountCents int64, transactionID string) error {
	s.chargeCalls++
	if s.chargeErr != nil {
		return s.chargeErr
	}
	c, ok := s.customers[customerID]
	if !ok {
		return repository.ErrCustomerNotFound
	}
	if c.CreditCents+amountCents > c.CreditLimitCents {
		return repository.ErrCreditLimitExceeded
	}
	c.CreditCents += amountCents
	s.chargedTotal += amountCents
	return nil
}

func (s *stubRepo) RecordPayment(ctx context.Context, customerID, amountCents int64) error {
	s.paymentCalls++
	if s.paymentErr != nil {
		return s.paymentErr
	}
	c, ok := s.customers[customerID]
	if !ok {
		return repository.ErrCustomerNotFound
	}
	if amountCents > c.CreditCents {
		return repository.ErrOverpayment
	}
	c.CreditCents -= amountCents
	return nil
}

func (s *stubRepo) GetLedgerEntries(ctx context.Context, customerID int64) ([]model.LedgerEntry, error) {
	return nil, nil
}

func (s *stubRepo) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	if s.createTxErr != nil {
		return s.createTxErr
	}
	s.createdTransactions = append(s.createdTransactions, *t)
	return nil
}

func (s *stubRepo) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	return nil, repository.ErrTransactionNotFound
}

func (s *stubRepo) ListTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	return nil, nil
}

func (s *stubRepo) VoidTransaction(ctx context.Context, id string) error { return nil }

func (s *stubRepo) GetUnprintedTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	return s.unprinted, nil
}

func (s *stubRepo) MarkTransactionPrinted(ctx context.Context, id string) error {
	s.printedIDs = append(s.printedIDs, id)
	return nil
}

type stubNotifier struct {
	events        []model.Event
	invalidations []string
}

func (n *stubNotifier) Publish(eventType model.EventType, message string) {
	n.events = append(n.events, model.Event{Type: eventType, Message: message})
}

func (n *stubNotifier) Invalidate(scope string) {
	n.invalidations = append(n.invalidations, scope)
}

func newTestService(repo *stubRepo) (*Service, *stubNotifier) {
	notifier := &stubNotifier{}
	svc := NewService(repo, cart.NewStore(), nil, notifier, nil, false)
	return svc, notifier
}

func allCaps() Capabilities {
	return Capabilities{Discount: true, OnAccount: true, AdjustStock: true, Void: true}
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	repo := &stubRepo{}
	svc, _ := newTestService(repo)

	_, err := svc.Checkout(context.Background(), 1, CheckoutRequest{Method: model.PaymentCash, AmountPaid: 10}, allCaps())
	if !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if len(repo.createdTransactions) != 0 || len(repo.adjustCalls) != 0 {
		t.Fatalf("empty cart checkout must not mutate anything")
	}
}

func TestCheckout_CashChange(t *testing.T) {
	tests := []struct {
		name       string
		amountPaid float64
		wantChange int64
		wantErr    error
	}{
		{name: "exact payment", amountPaid: 50, wantChange: 0},
		{name: "overpayment returns change", amountPaid: 55, wantChange: 500},
		{name: "underpayment rejected", amountPaid: 49.99, wantErr: ErrInsufficientPayment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{
				products: map[int64]*model.Product{
					1: {ID: 1, Name: "rice", PriceCents: 2500, Stock: 10},
				},
			}
			svc, _ := newTestService(repo)

			for i := 0; i < 2; i++ {
				if err := svc.AddToCart(context.Background(), 1, 1); err != nil {
					t.Fatalf("AddToCart error: %v", err)
				}
			}

			tx, err := svc.Checkout(context.Background(), 1, CheckoutRequest{
				Method:     model.PaymentCash,
				AmountPaid: tt.amountPaid,
			}, allCaps())

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if len(repo.adjustCalls) != 0 || len(repo.createdTransactions) != 0 {
					t.Fatalf("rejected checkout must not mutate anything")
				}
				return
			}

			if err != nil {
				t.Fatalf("Checkout error: %v", err)
			}
			if tx.ChangeCents != tt.wantChange {
				t.Fatalf("change = %d, want %d", tx.ChangeCents, tt.wantChange)
			}
			if tx.Status != model.TransactionCompleted {
				t.Fatalf("status = %s, want completed", tx.Status)
			}
			if len(repo.adjustCalls) != 1 || repo.adjustCalls[0].delta != 2 {
				t.Fatalf("unexpected adjust calls: %+v", repo.adjustCalls)
			}

			if svc.GetCart(1).Totals.SubtotalCents != 0 {
				t.Fatalf("cart not reset after commit")
			}
		})
	}
}

func TestCheckout_OnAccountRejectedOverLimit(t *testing.T) {
	repo := &stubRepo{
		products: map[int64]*model.Product{
			1: {ID: 1, Name: "oil", PriceCents: 3000, Stock: 10},
		},
		customers: map[int64]*model.Customer{
			7: {ID: 7, Name: "rahim", CreditLimitCents: 10000, CreditCents: 8000},
		},
	}
	svc, _ := newTestService(repo)

	if err := svc.AddToCart(context.Background(), 1, 1); err != nil {
		t.Fatalf("AddToCart error: %v", err)
	}
	customerID := int64(7)
	if err := svc.SetCartCustomer(context.Background(), 1, &customerID); err != nil {
		t.Fatalf("SetCartCustomer error: %v", err)
	}

	// Долг 80, лимит 100, чек на 30: продажа в долг отклоняется без следов.
	_, err := svc.Checkout(context.Background(), 1, CheckoutRequest{Method: model.PaymentOnAccount}, allCaps())
	if !errors.Is(err, repository.ErrCreditLimitExceeded) {
		t.Fatalf("expected ErrCreditLimitExceeded, got %v", err)
	}

	if repo.customers[7].CreditCents != 8000 {
		t.Fatalf("credit mutated on rejection: %d", repo.customers[7].CreditCents)
	}
	if len(repo.adjustCalls) != 0 {
		t.Fatalf("inventory mutated on rejection: %+v", repo.adjustCalls)
	}
	if len(repo.createdTransactions) != 0 {
		t.Fatalf("transaction recorded on rejection")
	}
	if svc.GetCart(1).Totals.SubtotalCents == 0 {
		t.Fatalf("cart must keep its lines after rejection")
	}
}

func TestCheckout_OnAccountAccepted(t *testing.T) {
	repo := &stubRepo{
		products: map[int64]*model.Product{
			1: {ID: 1, Name: "oil", PriceCents: 1500, Stock: 10},
		},
		customers: map[int64]*model.Customer{
			7: {ID: 7, Name: "rahim", CreditLimitCents: 10000, CreditCents: 8000},
		},
	}
	svc, _ := newTestService(repo)

	if err := svc.AddToCart(context.Background(), 1, 1); err != nil {
		t.Fatalf("AddToCart error: %v", err)
	}
	customerID := int64(7)
	if err := svc.SetCartCustomer(context.Background(), 1, &customerID); err != nil {
		t.Fatalf("SetCartCustomer error: %v", err)
	}

	// Долг 80, лимит 100, чек на 15: принимается, долг 95, продажа ожидает оплаты.
	tx, err := svc.Checkout(context.Background(), 1, CheckoutRequest{Method: model.PaymentOnAccount}, allCaps())
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	if repo.customers[7].CreditCents != 9500 {
		t.Fatalf("credit = %d, want 9500", repo.customers[7].CreditCents)
	}
	if tx.Status != model.TransactionPending {
		t.Fatalf("status = %s, want pending", tx.Status)
	}
	if tx.CustomerID == nil || *tx.CustomerID != 7 || tx.CustomerName != "rahim" {
		t.Fatalf("customer not denormalized: %+v", tx)
	}
	if len(repo.createdTransactions) != 1 {
		t.Fatalf("transactions recorded = %d, want 1", len(repo.createdTransactions))
	}
	if svc.GetCart(1).Totals.SubtotalCents != 0 {
		t.Fatalf("cart not reset after commit")
	}
}

func TestCheckout_OnAccountWithoutCustomer(t *testing.T) {
	repo := &stubRepo{
		products: map[int64]*model.Product{
			1: {ID: 1, Name: "oil", PriceCents: 1500, Stock: 10},
		},
	}
	svc, _ := newTestService(repo)

	if err := svc.AddToCart(context.Background(), 1, 1); err != nil {
		t.Fatalf("AddToCart error: %v", err)
	}

	_, err := svc.Checkout(context.Background(), 1, CheckoutRequest{Method: model.PaymentOnAccount}, allCaps())
	if !errors.Is(err, ErrCustomerRequired) {
		t.Fatalf("expected ErrCustomerRequired, got %v", err)
	}
}

func TestCheckout_OnAccountRequiresCapability(t *testing.T) {
	repo := &stubRepo{
		products: map[int64]*model.Product{
			1: {ID: 1, Name: "oil", PriceCents: 1500, Stock: 10},
		},
		customers: map[int64]*model.Customer{
			7: {ID: 7, Name: "rahim", CreditLimitCents: 10000},
		},
	}
	svc, _ := newTestService(repo)

	if err := svc.AddToCart(context.Background(), 1, 1); err != nil {
		t.Fatalf("AddToCart error: %v", err)
	}
	customerID := int64(7)
	if err := svc.SetCartCustomer(context.Background(), 1, &customerID); err != nil {
		t.Fatalf("SetCartCustomer error: %v", err)
	}

	_, err := svc.Checkout(context.Background(), 1, CheckoutRequest{Method: model.PaymentOnAccount}, Capabilities{})
	if !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("expected ErrNotPermitted, got %v", err)
	}
	if repo.chargeCalls != 0 {
		t.Fatalf("credit ledger touched without capability")
	}
}

func TestCheckout_PartialApplyRecordedLoudly(t *testing.T) {
	repo := &stubRepo{
		products: map[int64]*model.Product{
			1: {ID: 1, Name: "rice", PriceCents: 1000, Stock: 5},
		},
		adjustErr: errors.New("connection reset by peer"),
	}
	svc, notifier := newTestService(repo)

	if err := svc.AddToCart(context.Background(), 1, 1); err != nil {
		t.Fatalf("AddToCart error: %v", err)
	}

	// Сбой списания остатков не откатывается: продажа всё равно записывается,
	// а оператору уходит громкое уведомление об ошибке.
	tx, err := svc.Checkout(context.Background(), 1, CheckoutRequest{Method: model.PaymentCash, AmountPaid: 10}, allCaps())
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	if tx == nil || len(repo.createdTransactions) != 1 {
		t.Fatalf("transaction must be recorded despite partial apply")
	}

	var sawError bool
	for _, e := range notifier.events {
		if e.Type == model.EventError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected error event for partial apply, got %+v", notifier.events)
	}
}

func TestAddToCart_StockUnavailable(t *testing.T) {
	repo := &stubRepo{
		products: map[int64]*model.Product{
			1: {ID: 1, Name: "rice", PriceCents: 1000, Stock: 0},
		},
	}
	svc, notifier := newTestService(repo)

	err := svc.AddToCart(context.Background(), 1, 1)
	if !errors.Is(err, ErrStockUnavailable) {
		t.Fatalf("expected ErrStockUnavailable, got %v", err)
	}
	if len(notifier.events) == 0 || notifier.events[0].Type != model.EventError {
		t.Fatalf("expected error event, got %+v", notifier.events)
	}
}

func TestSetCartQuantity_ExceedsStock(t *testing.T) {
	repo := &stubRepo{
		products: map[int64]*model.Product{
			1: {ID: 1, Name: "rice", PriceCents: 1000, Stock: 5},
		},
	}
	svc, _ := newTestService(repo)

	if err := svc.AddToCart(context.Background(), 1, 1); err != nil {
		t.Fatalf("AddToCart error: %v", err)
	}

	err := svc.SetCartQuantity(context.Background(), 1, 1, 6)
	if !errors.Is(err, ErrStockUnavailable) {
		t.Fatalf("expected ErrStockUnavailable, got %v", err)
	}

	lines := svc.GetCart(1).Lines
	if len(lines) != 1 || lines[0].Quantity != 1 {
		t.Fatalf("line must keep prior quantity, got %+v", lines)
	}
}

func TestRecordKhataPayment_Validation(t *testing.T) {
	repo := &stubRepo{
		customers: map[int64]*model.Customer{
			7: {ID: 7, CreditLimitCents: 10000, CreditCents: 5000},
		},
	}
	svc, _ := newTestService(repo)

	if err := svc.RecordKhataPayment(context.Background(), 7, -10); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative sum, got %v", err)
	}
	if repo.paymentCalls != 0 {
		t.Fatalf("repository called for invalid amount")
	}

	if err := svc.RecordKhataPayment(context.Background(), 7, 60); !errors.Is(err, repository.ErrOverpayment) {
		t.Fatalf("expected ErrOverpayment, got %v", err)
	}
	if repo.customers[7].CreditCents != 5000 {
		t.Fatalf("credit mutated on overpayment rejection")
	}

	if err := svc.RecordKhataPayment(context.Background(), 7, 20); err != nil {
		t.Fatalf("RecordKhataPayment error: %v", err)
	}
	if repo.customers[7].CreditCents != 3000 {
		t.Fatalf("credit = %d, want 3000", repo.customers[7].CreditCents)
	}
}

func TestGetCustomerBalance(t *testing.T) {
	repo := &stubRepo{
		customers: map[int64]*model.Customer{
			7: {ID: 7, CreditLimitCents: 10000, CreditCents: 2500},
		},
	}
	svc, _ := newTestService(repo)

	balance, err := svc.GetCustomerBalance(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetCustomerBalance error: %v", err)
	}
	if balance.Current != 25 || balance.Limit != 100 || balance.Available != 75 {
		t.Fatalf("unexpected balance: %+v", balance)
	}
}

func TestAdjustStock_RequiresCapability(t *testing.T) {
	repo := &stubRepo{
		products: map[int64]*model.Product{
			1: {ID: 1, Name: "rice", PriceCents: 1000, Stock: 5},
		},
	}
	svc, _ := newTestService(repo)

	_, err := svc.AdjustStock(context.Background(), 1, 3, repository.AdjustAdd, Capabilities{})
	if !errors.Is(err, ErrNotPermitted) {
		t.Fatalf("expected ErrNotPermitted, got %v", err)
	}
	if len(repo.adjustCalls) != 0 {
		t.Fatalf("repository called without capability")
	}
}

func TestCreateProduct_Validation(t *testing.T) {
	repo := &stubRepo{products: map[int64]*model.Product{}}
	svc, _ := newTestService(repo)

	tests := []struct {
		name string
		in   ProductInput
	}{
		{name: "empty name", in: ProductInput{SKU: "SKU-1", Price: 10}},
		{name: "invalid sku", in: ProductInput{Name: "rice", SKU: "so wrong", Price: 10}},
		{name: "negative price", in: ProductInput{Name: "rice", SKU: "SKU-1", Price: -1}},
		{name: "negative stock", in: ProductInput{Name: "rice", SKU: "SKU-1", Price: 1, Stock: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CreateProduct(context.Background(), tt.in); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestStartReceiptDispatch_NoPrinter(t *testing.T) {
	svc := NewService(&stubRepo{}, cart.NewStore(), nil, nil, nil, false)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})

	go func() {
		svc.StartReceiptDispatch(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("StartReceiptDispatch did not return without printer")
	}
}

type stubPrinter struct {
	statuses []int
	calls    int
}

func (p *stubPrinter) Print(ctx context.Context, t *model.Transaction) (int, time.Duration, error) {
	status := 200
	if p.calls < len(p.statuses) {
		status = p.statuses[p.calls]
	}
	p.calls++
	return status, 0, nil
}

func TestDispatchReceiptBatch_MarksPrinted(t *testing.T) {
	repo := &stubRepo{
		unprinted: []model.Transaction{
			{ID: "tx-1", Status: model.TransactionCompleted},
			{ID: "tx-2", Status: model.TransactionCompleted},
		},
	}
	printer := &stubPrinter{statuses: []int{200, 429}}
	svc := NewService(repo, cart.NewStore(), printer, nil, nil, false)

	svc.dispatchReceiptBatch(context.Background())

	if len(repo.printedIDs) != 1 || repo.printedIDs[0] != "tx-1" {
		t.Fatalf("printed = %+v, want only tx-1", repo.printedIDs)
	}
}
