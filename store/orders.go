package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"meatmarket/protocol"
)

// HistoryEntry is one recorded stage change.
type HistoryEntry struct {
	ID         int64            `json:"id"`
	OrderID    protocol.OrderID `json:"order_id"`
	OldStatus  string           `json:"old_status"`
	NewStatus  string           `json:"new_status"`
	Seq        int64            `json:"seq"`
	Source     string           `json:"source"`
	Note       string           `json:"note,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// ApplyResult reports what ApplyOrder did.
type ApplyResult struct {
	Applied  bool
	Previous *protocol.Order
	Current  protocol.Order
}

type rowScanner interface {
	Scan(dest ...any) error
}

const orderColumns = `id, status, items, total, seq, created_at, updated_at`

func (db *DB) scanOrder(row rowScanner) (protocol.Order, error) {
	var (
		o                    protocol.Order
		id, status, total    string
		items                []byte
		createdAt, updatedAt any
	)
	if err := row.Scan(&id, &status, &items, &total, &o.Seq, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, ErrNotFound
		}
		return o, err
	}
	o.ID = protocol.OrderID(id)
	o.Status = protocol.ParseStage(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return o, fmt.Errorf("order %s items: %w", id, err)
		}
	}
	t, err := decimal.NewFromString(total)
	if err != nil {
		return o, fmt.Errorf("order %s total: %w", id, err)
	}
	o.Total = t
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return o, nil
}

func (db *DB) GetOrder(ctx context.Context, id protocol.OrderID) (protocol.Order, error) {
	return db.scanOrder(db.QueryRowContext(ctx, db.Q(`SELECT `+orderColumns+` FROM orders WHERE id=?`), string(id)))
}

// ListOrders returns the most recently updated orders, newest first.
func (db *DB) ListOrders(ctx context.Context, limit int) ([]protocol.Order, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT `+orderColumns+` FROM orders ORDER BY updated_at DESC, id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []protocol.Order
	for rows.Next() {
		o, err := db.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of stored orders per stage.
func (db *DB) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// ApplyOrder stores o unless the stored snapshot is newer, and records a
// history row when the stage changes. Read, compare and write happen in one
// transaction.
func (db *DB) ApplyOrder(ctx context.Context, o protocol.Order, source, note string) (ApplyResult, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ApplyResult{}, err
	}
	defer tx.Rollback()

	var res ApplyResult
	prev, err := db.scanOrder(tx.QueryRowContext(ctx, db.Q(`SELECT `+orderColumns+` FROM orders WHERE id=?`), string(o.ID)))
	switch {
	case err == nil:
		res.Previous = &prev
		if !protocol.Newer(o, prev) {
			res.Current = prev
			return res, nil
		}
	case errors.Is(err, ErrNotFound):
	default:
		return ApplyResult{}, err
	}

	items, err := json.Marshal(o.Items)
	if err != nil {
		return ApplyResult{}, err
	}
	if o.Items == nil {
		items = []byte("[]")
	}
	d := db.dialect
	_, err = tx.ExecContext(ctx, db.Q(`INSERT INTO orders (`+orderColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status=excluded.status, items=excluded.items, total=excluded.total,
		seq=excluded.seq, updated_at=excluded.updated_at`),
		string(o.ID), o.Status.String(), string(items), o.Total.String(), o.Seq,
		d.Time(o.CreatedAt), d.Time(o.UpdatedAt))
	if err != nil {
		return ApplyResult{}, fmt.Errorf("upsert order %s: %w", o.ID, err)
	}

	if res.Previous == nil || res.Previous.Status != o.Status {
		old := ""
		if res.Previous != nil {
			old = res.Previous.Status.String()
		}
		_, err = tx.ExecContext(ctx, db.Q(`INSERT INTO order_history (order_id, old_status, new_status, seq, source, note, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			string(o.ID), old, o.Status.String(), o.Seq, source, note, d.Time(time.Now()))
		if err != nil {
			return ApplyResult{}, fmt.Errorf("history %s: %w", o.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ApplyResult{}, err
	}
	res.Applied = true
	res.Current = o
	return res, nil
}

func (db *DB) ListHistory(ctx context.Context, id protocol.OrderID) ([]HistoryEntry, error) {
	rows, err := db.QueryContext(ctx, db.Q(`SELECT id, order_id, old_status, new_status, seq, source, note, recorded_at FROM order_history WHERE order_id=? ORDER BY id`), string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var orderID string
		var at any
		if err := rows.Scan(&h.ID, &orderID, &h.OldStatus, &h.NewStatus, &h.Seq, &h.Source, &h.Note, &at); err != nil {
			return nil, err
		}
		h.OrderID = protocol.OrderID(orderID)
		h.RecordedAt = parseTime(at)
		out = append(out, h)
	}
	return out, rows.Err()
}
