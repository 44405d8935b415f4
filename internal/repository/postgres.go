// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/khatapos-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrSKUExists возвращается при попытке создать товар с уже занятым артикулом.
	ErrSKUExists = errors.New("sku already exists")
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrCreditLimitExceeded возвращается, когда долг превысил бы кредитный лимит.
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	// ErrOverpayment возвращается при попытке погасить больше текущего долга.
	ErrOverpayment = errors.New("payment exceeds current credit")
	// ErrTransactionNotFound возвращается, если запись о продаже не найдена.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrTransactionVoided возвращается при попытке повторно отменить продажу.
	ErrTransactionVoided = errors.New("transaction already voided")
	// ErrTransactionPending возвращается при попытке отменить непогашенную продажу в долг.
	ErrTransactionPending = errors.New("pending transaction must be settled before void")
)

// AdjustMode описывает направление изменения складского остатка.
type AdjustMode string

const (
	AdjustAdd      AdjustMode = "add"
	AdjustSubtract AdjustMode = "subtract"
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		// Если это не pg-ошибка, но сетевая
		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с указанной ролью.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
		login, passwordHash, role,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// CreateProduct создаёт запись каталога и возвращает её идентификатор.
func (r *PostgresRepository) CreateProduct(ctx context.Context, p *model.Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO products (name, sku, category, price, stock, min_stock)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		p.Name, p.SKU, p.Category, p.PriceCents, p.Stock, p.MinStock,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrSKUExists, p.SKU)
		}
		return 0, fmt.Errorf("create product: %w", err)
	}
	return id, nil
}

// GetProduct возвращает товар по идентификатору.
func (r *PostgresRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, sku, category, price, stock, min_stock, created_at
		 FROM products WHERE id = $1`,
		id,
	)

	var p model.Product
	err := row.Scan(&p.ID, &p.Name, &p.SKU, &p.Category, &p.PriceCents, &p.Stock, &p.MinStock, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return &p, nil
}

// UpdateProduct обновляет карточку товара. Складской остаток карточкой не
// меняется, для этого есть AdjustStock.
func (r *PostgresRepository) UpdateProduct(ctx context.Context, p *model.Product) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE products SET name = $2, sku = $3, category = $4, price = $5, min_stock = $6
		 WHERE id = $1`,
		p.ID, p.Name, p.SKU, p.Category, p.PriceCents, p.MinStock,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrSKUExists, p.SKU)
		}
		return fmt.Errorf("update product: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// DeleteProduct удаляет товар из каталога.
func (r *PostgresRepository) DeleteProduct(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// SearchProducts возвращает товары, у которых имя, артикул или категория
// содержит подстроку запроса без учёта регистра. Пустой запрос возвращает
// весь каталог.
func (r *PostgresRepository) SearchProducts(ctx context.Context, query string) ([]model.Product, error) {
	pattern := "%" + query + "%"
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, sku, category, price, stock, min_stock, created_at
		 FROM products
		 WHERE name ILIKE $1 OR sku ILIKE $1 OR category ILIKE $1
		 ORDER BY name`,
		pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	var res []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Category, &p.PriceCents, &p.Stock, &p.MinStock, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// AdjustStock изменяет складской остаток товара на указанную величину.
// Списание ниже нуля обрезается до нуля, если allowNegative не установлен.
// Журнал изменений остатков не ведётся.
func (r *PostgresRepository) AdjustStock(ctx context.Context, id, delta int64, mode AdjustMode, allowNegative bool) (*model.Product, error) {
	var q string
	switch {
	case mode == AdjustAdd:
		q = `UPDATE products SET stock = stock + $2 WHERE id = $1
		     RETURNING id, name, sku, category, price, stock, min_stock, created_at`
	case allowNegative:
		q = `UPDATE products SET stock = stock - $2 WHERE id = $1
		     RETURNING id, name, sku, category, price, stock, min_stock, created_at`
	default:
		q = `UPDATE products SET stock = GREATEST(stock - $2, 0) WHERE id = $1
		     RETURNING id, name, sku, category, price, stock, min_stock, created_at`
	}

	var p model.Product
	err := r.withRetry(ctx, func() error {
		return r.pool.QueryRow(ctx, q, id, delta).
			Scan(&p.ID, &p.Name, &p.SKU, &p.Category, &p.PriceCents, &p.Stock, &p.MinStock, &p.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("adjust stock: %w", err)
	}

	return &p, nil
}

// CreateCustomer создаёт клиента и возвращает его идентификатор.
func (r *PostgresRepository) CreateCustomer(ctx context.Context, c *model.Customer) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO customers (name, phone, credit_limit) VALUES ($1, $2, $3) RETURNING id`,
		c.Name, c.Phone, c.CreditLimitCents,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create customer: %w", err)
	}
	return id, nil
}

// GetCustomer возвращает клиента по идентификатору.
func (r *PostgresRepository) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, phone, credit_limit, credit, created_at FROM customers WHERE id = $1`,
		id,
	)

	var c model.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.CreditLimitCents, &c.CreditCents, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}

	return &c, nil
}

// UpdateCustomer обновляет карточку клиента. Текущий долг карточкой не
// меняется, его двигают только продажа в долг и приём платежа.
func (r *PostgresRepository) UpdateCustomer(ctx context.Context, c *model.Customer) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE customers SET name = $2, phone = $3, credit_limit = $4 WHERE id = $1`,
		c.ID, c.Name, c.Phone, c.CreditLimitCents,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return ErrCreditLimitExceeded
		}
		return fmt.Errorf("update customer: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// ListCustomers возвращает всех клиентов в алфавитном порядке.
func (r *PostgresRepository) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, phone, credit_limit, credit, created_at FROM customers ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("select customers: %w", err)
	}
	defer rows.Close()

	var res []model.Customer
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.CreditLimitCents, &c.CreditCents, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ChargeOnAccount увеличивает долг клиента на сумму продажи в долг и
// добавляет запись «кхата» в его кредитную книжку. Строка клиента
// блокируется на время проверки лимита, поэтому параллельные списания не
// могут обойти кредитный лимит. При отказе состояние не меняется.
func (r *PostgresRepository) ChargeOnAccount(ctx context.Context, customerID, amountCents int64, transactionID string) error {
	return r.withRetry(ctx, func() error {
		return r.chargeOnAccount(ctx, customerID, amountCents, transactionID)
	})
}

func (r *PostgresRepository) chargeOnAccount(ctx context.Context, customerID, amountCents int64, transactionID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var credit, limit int64
	err = tx.QueryRow(ctx,
		`SELECT credit, credit_limit FROM customers WHERE id = $1 FOR UPDATE`,
		customerID,
	).Scan(&credit, &limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCustomerNotFound
		}
		return fmt.Errorf("lock customer for update: %w", err)
	}

	if credit+amountCents > limit {
		return ErrCreditLimitExceeded
	}

	_, err = tx.Exec(ctx,
		`UPDATE customers SET credit = credit + $2 WHERE id = $1`,
		customerID, amountCents,
	)
	if err != nil {
		return fmt.Errorf("update credit: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (customer_id, type, amount, transaction_id)
		 VALUES ($1, $2, $3, $4)`,
		customerID, string(model.LedgerEntryKhata), amountCents, transactionID,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// RecordPayment уменьшает долг клиента на сумму платежа, добавляет запись
// «платёж» в кредитную книжку и помечает погашенные продажи в долг как
// завершённые, начиная с самой старой.
func (r *PostgresRepository) RecordPayment(ctx context.Context, customerID, amountCents int64) error {
	return r.withRetry(ctx, func() error {
		return r.recordPayment(ctx, customerID, amountCents)
	})
}

func (r *PostgresRepository) recordPayment(ctx context.Context, customerID, amountCents int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var credit int64
	err = tx.QueryRow(ctx,
		`SELECT credit FROM customers WHERE id = $1 FOR UPDATE`,
		customerID,
	).Scan(&credit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrCustomerNotFound
		}
		return fmt.Errorf("lock customer for update: %w", err)
	}

	if amountCents > credit {
		return ErrOverpayment
	}

	_, err = tx.Exec(ctx,
		`UPDATE customers SET credit = credit - $2 WHERE id = $1`,
		customerID, amountCents,
	)
	if err != nil {
		return fmt.Errorf("update credit: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (customer_id, type, amount)
		 VALUES ($1, $2, $3)`,
		customerID, string(model.LedgerEntryPayment), amountCents,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := settlePending(ctx, tx, customerID, amountCents); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// settlePending закрывает ожидающие продажи в долг в порядке их создания,
// пока суммы платежа хватает на полное погашение очередной продажи.
func settlePending(ctx context.Context, tx pgx.Tx, customerID, amountCents int64) error {
	rows, err := tx.Query(ctx,
		`SELECT id, total FROM transactions
		 WHERE customer_id = $1 AND status = $2
		 ORDER BY created_at`,
		customerID, string(model.TransactionPending),
	)
	if err != nil {
		return fmt.Errorf("select pending transactions: %w", err)
	}
	defer rows.Close()

	var settled []string
	remaining := amountCents
	for rows.Next() {
		var id string
		var total int64
		if err := rows.Scan(&id, &total); err != nil {
			return fmt.Errorf("scan pending transaction: %w", err)
		}
		if total > remaining {
			break
		}
		settled = append(settled, id)
		remaining -= total
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	if len(settled) == 0 {
		return nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE transactions SET status = $2 WHERE id = ANY($1::uuid[])`,
		settled, string(model.TransactionCompleted),
	)
	if err != nil {
		return fmt.Errorf("settle pending transactions: %w", err)
	}

	return nil
}

// GetLedgerEntries возвращает историю кредитной книжки клиента, новые записи первыми.
func (r *PostgresRepository) GetLedgerEntries(ctx context.Context, customerID int64) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, customer_id, type, amount, transaction_id, created_at
		 FROM ledger_entries
		 WHERE customer_id = $1
		 ORDER BY created_at DESC`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var entryType string
		if err := rows.Scan(&e.ID, &e.CustomerID, &entryType, &e.AmountCents, &e.TransactionID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Type = model.LedgerEntryType(entryType)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CreateTransaction сохраняет запись о продаже вместе со снимком строк корзины.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO transactions
		 (id, customer_id, customer_name, payment_method, amount_paid, change,
		  subtotal, discount, tax, total, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.CustomerID, t.CustomerName, string(t.PaymentMethod), t.AmountPaidCents, t.ChangeCents,
		t.SubtotalCents, t.DiscountCents, t.TaxCents, t.TotalCents, string(t.Status), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	for _, item := range t.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO transaction_items (transaction_id, product_id, name, price, quantity, subtotal)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			t.ID, item.ProductID, item.Name, item.PriceCents, item.Quantity, item.SubtotalCents,
		)
		if err != nil {
			return fmt.Errorf("insert transaction item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func (r *PostgresRepository) loadTransactionItems(ctx context.Context, transactionID string) ([]model.TransactionItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT product_id, name, price, quantity, subtotal
		 FROM transaction_items
		 WHERE transaction_id = $1
		 ORDER BY id`,
		transactionID,
	)
	if err != nil {
		return nil, fmt.Errorf("select transaction items: %w", err)
	}
	defer rows.Close()

	var res []model.TransactionItem
	for rows.Next() {
		var item model.TransactionItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.PriceCents, &item.Quantity, &item.SubtotalCents); err != nil {
			return nil, fmt.Errorf("scan transaction item: %w", err)
		}
		res = append(res, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	var method, status string
	err := row.Scan(&t.ID, &t.CustomerID, &t.CustomerName, &method, &t.AmountPaidCents, &t.ChangeCents,
		&t.SubtotalCents, &t.DiscountCents, &t.TaxCents, &t.TotalCents, &status, &t.VoidedAt, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.PaymentMethod = model.PaymentMethod(method)
	t.Status = model.TransactionStatus(status)
	return &t, nil
}

const transactionColumns = `id, customer_id, customer_name, payment_method, amount_paid, change,
	 subtotal, discount, tax, total, status, voided_at, created_at`

// GetTransaction возвращает запись о продаже вместе со снимком строк.
func (r *PostgresRepository) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`,
		id,
	)

	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	items, err := r.loadTransactionItems(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	t.Items = items

	return t, nil
}

// ListTransactions возвращает последние продажи, новые первыми.
func (r *PostgresRepository) ListTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	for i := range res {
		items, err := r.loadTransactionItems(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Items = items
	}

	return res, nil
}

// VoidTransaction отменяет завершённую продажу. Меняется только статус и
// отметка времени отмены, состав и суммы продажи остаются как были.
// Непогашенную продажу в долг отменить нельзя.
func (r *PostgresRepository) VoidTransaction(ctx context.Context, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx,
		`SELECT status FROM transactions WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return fmt.Errorf("lock transaction for update: %w", err)
	}

	switch model.TransactionStatus(status) {
	case model.TransactionVoided:
		return ErrTransactionVoided
	case model.TransactionPending:
		return ErrTransactionPending
	}

	_, err = tx.Exec(ctx,
		`UPDATE transactions SET status = $2, voided_at = now() WHERE id = $1`,
		id, string(model.TransactionVoided),
	)
	if err != nil {
		return fmt.Errorf("void transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetUnprintedTransactions возвращает продажи, чеки по которым ещё не отправлены на печать.
func (r *PostgresRepository) GetUnprintedTransactions(ctx context.Context, limit int) ([]model.Transaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE printed = FALSE AND status <> $1
		 ORDER BY created_at
		 LIMIT $2`,
		string(model.TransactionVoided), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select unprinted transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	rows.Close()

	for i := range res {
		items, err := r.loadTransactionItems(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Items = items
	}

	return res, nil
}

// MarkTransactionPrinted помечает чек продажи отправленным на печать.
func (r *PostgresRepository) MarkTransactionPrinted(ctx context.Context, id string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE transactions SET printed = TRUE WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark transaction printed: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
