package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/bookstore-backoffice/internal/core/domain"
)

//go:embed schema.sql
var schema string

type txKey struct{}

// execer is the subset of *sql.DB and *sql.Tx the adapter needs.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the tables if they are missing.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// WithinTx runs fn in a transaction carried by ctx. Nested calls join the
// outer transaction.
func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) conn(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return m.db
}

func (m *MySQLAdapter) AddBook(ctx context.Context, isbn, title string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO books (isbn, title) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE title = VALUES(title)`, isbn, title)
	return err
}

func (m *MySQLAdapter) AddClient(ctx context.Context, id, email string) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO clients (id, email) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE email = VALUES(email)`, id, email)
	return err
}

func (m *MySQLAdapter) BookExists(ctx context.Context, bookID string) (bool, error) {
	return m.exists(ctx, `SELECT 1 FROM books WHERE isbn = ?`, bookID)
}

func (m *MySQLAdapter) ClientExists(ctx context.Context, clientID string) (bool, error) {
	return m.exists(ctx, `SELECT 1 FROM clients WHERE id = ?`, clientID)
}

func (m *MySQLAdapter) exists(ctx context.Context, query, id string) (bool, error) {
	var one int
	err := m.conn(ctx).QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Withdraw decrements in a single conditional UPDATE. A miss is resolved by
// reading the row to tell an absent entry from a short one.
func (m *MySQLAdapter) Withdraw(ctx context.Context, bookID string, quantity int) (domain.StockItem, error) {
	db := m.conn(ctx)
	result, err := db.ExecContext(ctx, `
		UPDATE warehouse
		SET quantity = quantity - ?, version = version + 1, updated_at = NOW(6)
		WHERE book_id = ? AND quantity - ? >= ?`,
		quantity, bookID, quantity, domain.StockReserve,
	)
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("withdraw stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	item, err := m.Get(ctx, bookID)
	if err != nil {
		return domain.StockItem{}, err
	}
	if rows == 0 {
		return domain.StockItem{}, &domain.InsufficientStockError{BookID: bookID, Available: item.Quantity, Requested: quantity}
	}
	return item, nil
}

func (m *MySQLAdapter) Return(ctx context.Context, bookID string, quantity int, price decimal.NullDecimal) (domain.StockItem, error) {
	if quantity < 0 {
		return domain.StockItem{}, domain.ErrInvalidQuantity
	}
	price, err := priceOverride(price)
	if err != nil {
		return domain.StockItem{}, err
	}

	db := m.conn(ctx)
	var result sql.Result
	if price.Valid {
		result, err = db.ExecContext(ctx, `
			UPDATE warehouse
			SET quantity = quantity + ?, price = ?, version = version + 1, updated_at = NOW(6)
			WHERE book_id = ?`, quantity, price.Decimal, bookID)
	} else {
		result, err = db.ExecContext(ctx, `
			UPDATE warehouse
			SET quantity = quantity + ?, version = version + 1, updated_at = NOW(6)
			WHERE book_id = ?`, quantity, bookID)
	}
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("return stock: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.StockItem{}, stockNotFound(bookID)
	}
	return m.Get(ctx, bookID)
}

func (m *MySQLAdapter) CurrentPrice(ctx context.Context, bookID string) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := m.conn(ctx).QueryRowContext(ctx, `SELECT price FROM warehouse WHERE book_id = ?`, bookID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Decimal{}, stockNotFound(bookID)
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("query price: %w", err)
	}
	return price, nil
}

func (m *MySQLAdapter) Upsert(ctx context.Context, item domain.StockItem) (domain.StockItem, error) {
	if !domain.ValidPrice(item.Price) {
		return domain.StockItem{}, domain.ErrInvalidPrice
	}
	_, err := m.conn(ctx).ExecContext(ctx, `
		INSERT INTO warehouse (book_id, quantity, price, version, created_at, updated_at)
		VALUES (?, ?, ?, 0, NOW(6), NOW(6))
		ON DUPLICATE KEY UPDATE
			quantity = VALUES(quantity), price = VALUES(price),
			version = version + 1, updated_at = NOW(6)`,
		item.BookID, domain.ClampQuantity(item.Quantity), item.Price,
	)
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("upsert stock: %w", err)
	}
	return m.Get(ctx, item.BookID)
}

func (m *MySQLAdapter) Get(ctx context.Context, bookID string) (domain.StockItem, error) {
	var item domain.StockItem
	err := m.conn(ctx).QueryRowContext(ctx, `
		SELECT book_id, quantity, price, version, created_at, updated_at
		FROM warehouse WHERE book_id = ?`, bookID,
	).Scan(&item.BookID, &item.Quantity, &item.Price, &item.Version, &item.CreatedAt, &item.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockItem{}, stockNotFound(bookID)
	}
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("query stock: %w", err)
	}
	return item, nil
}

func (m *MySQLAdapter) SearchStock(ctx context.Context, filter domain.StockFilter) ([]domain.StockItem, error) {
	var (
		where []string
		args  []any
	)
	if filter.BookID != "" {
		where, args = append(where, "book_id = ?"), append(args, filter.BookID)
	}
	if filter.PriceFrom.Valid {
		where, args = append(where, "price >= ?"), append(args, filter.PriceFrom.Decimal)
	}
	if filter.PriceTo.Valid {
		where, args = append(where, "price <= ?"), append(args, filter.PriceTo.Decimal)
	}
	if filter.MinQuantity > 0 {
		where, args = append(where, "quantity >= ?"), append(args, filter.MinQuantity)
	}
	offset, size := domain.Window(filter.Page, filter.Limit)

	query := `SELECT book_id, quantity, price, version, created_at, updated_at FROM warehouse` +
		whereClause(where) + ` ORDER BY book_id LIMIT ? OFFSET ?`
	rows, err := m.conn(ctx).QueryContext(ctx, query, append(args, size, offset)...)
	if err != nil {
		return nil, fmt.Errorf("search stock: %w", err)
	}
	defer rows.Close()

	var items []domain.StockItem
	for rows.Next() {
		var item domain.StockItem
		if err := rows.Scan(&item.BookID, &item.Quantity, &item.Price, &item.Version, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Save writes the order row and replaces its lines.
func (m *MySQLAdapter) Save(ctx context.Context, order domain.Order) error {
	return m.WithinTx(ctx, func(ctx context.Context) error {
		db := m.conn(ctx)
		_, err := db.ExecContext(ctx, `
			INSERT INTO orders (id, client_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				client_id = VALUES(client_id), status = VALUES(status), updated_at = VALUES(updated_at)`,
			order.ID, order.ClientID, order.Status, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert order: %w", err)
		}

		if _, err := db.ExecContext(ctx, `DELETE FROM sold_items WHERE order_id = ?`, order.ID); err != nil {
			return fmt.Errorf("delete sold items: %w", err)
		}
		for i, item := range order.Items {
			_, err := db.ExecContext(ctx, `
				INSERT INTO sold_items (id, order_id, book_id, quantity, price, position)
				VALUES (?, ?, ?, ?, ?, ?)`,
				item.ID, order.ID, item.BookID, item.Quantity, item.Price, i,
			)
			if err != nil {
				return fmt.Errorf("insert sold item: %w", err)
			}
		}
		return nil
	})
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	var order domain.Order
	err := m.conn(ctx).QueryRowContext(ctx, `
		SELECT id, client_id, status, created_at, updated_at
		FROM orders WHERE id = ?`, id,
	).Scan(&order.ID, &order.ClientID, &order.Status, &order.CreatedAt, &order.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, orderNotFound(id)
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("query order: %w", err)
	}

	order.Items, err = m.soldItems(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (m *MySQLAdapter) soldItems(ctx context.Context, orderID string) ([]domain.SoldItem, error) {
	rows, err := m.conn(ctx).QueryContext(ctx, `
		SELECT id, order_id, book_id, quantity, price
		FROM sold_items WHERE order_id = ? ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query sold items: %w", err)
	}
	defer rows.Close()

	var items []domain.SoldItem
	for rows.Next() {
		var item domain.SoldItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.BookID, &item.Quantity, &item.Price); err != nil {
			return nil, fmt.Errorf("scan sold item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (m *MySQLAdapter) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) error {
	result, err := m.conn(ctx).ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`, status, at, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// MySQL reports 0 when the values are unchanged, so check existence
		if ok, err := m.exists(ctx, `SELECT 1 FROM orders WHERE id = ?`, id); err != nil || !ok {
			if err != nil {
				return err
			}
			return orderNotFound(id)
		}
	}
	return nil
}

func (m *MySQLAdapter) SearchOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.ID != "" {
		where, args = append(where, "id = ?"), append(args, filter.ID)
	}
	if filter.ClientID != "" {
		where, args = append(where, "client_id = ?"), append(args, filter.ClientID)
	}
	if filter.Status != "" {
		where, args = append(where, "status = ?"), append(args, filter.Status)
	}
	if !filter.CreatedFrom.IsZero() {
		where, args = append(where, "created_at >= ?"), append(args, filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		where, args = append(where, "created_at <= ?"), append(args, filter.CreatedTo)
	}
	offset, size := domain.Window(filter.Page, filter.Limit)

	query := `SELECT id, client_id, status, created_at, updated_at FROM orders` +
		whereClause(where) + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	rows, err := m.conn(ctx).QueryContext(ctx, query, append(args, size, offset)...)
	if err != nil {
		return nil, fmt.Errorf("search orders: %w", err)
	}

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(&o.ID, &o.ClientID, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		if orders[i].Items, err = m.soldItems(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
