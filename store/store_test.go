package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"meatmarket/config"
	"meatmarket/protocol"
	"meatmarket/session"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplyOrderMonotonic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	o := protocol.Order{
		ID:     "42",
		Status: protocol.StageConfirmed,
		Items: []protocol.Item{{
			ProductID: "rib", Name: "Ribeye", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("12.50"),
		}},
		Total:     decimal.RequireFromString("25.00"),
		CreatedAt: t0,
		UpdatedAt: t0,
		Seq:       1,
	}
	res, err := db.ApplyOrder(ctx, o, "bus", "")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !res.Applied || res.Previous != nil {
		t.Fatalf("first apply = %+v", res)
	}

	next := o
	next.Status = protocol.StageCutting
	next.Seq = 3
	next.UpdatedAt = t0.Add(time.Minute)
	if res, err = db.ApplyOrder(ctx, next, "bus", ""); err != nil || !res.Applied {
		t.Fatalf("second apply = %+v, %v", res, err)
	}

	stale := o
	stale.Status = protocol.StagePending
	stale.Seq = 2
	res, err = db.ApplyOrder(ctx, stale, "bus", "")
	if err != nil {
		t.Fatalf("stale apply: %v", err)
	}
	if res.Applied {
		t.Error("stale snapshot must not apply")
	}
	if res.Current.Status != protocol.StageCutting {
		t.Errorf("current = %v, want CUTTING", res.Current.Status)
	}

	got, err := db.GetOrder(ctx, "42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != protocol.StageCutting || got.Seq != 3 {
		t.Errorf("stored = %v seq %d", got.Status, got.Seq)
	}
	if !got.Total.Equal(decimal.NewFromInt(25)) {
		t.Errorf("total = %v", got.Total)
	}
	if len(got.Items) != 1 || got.Items[0].Name != "Ribeye" {
		t.Errorf("items = %+v", got.Items)
	}
	if !got.CreatedAt.Equal(t0) || !got.UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Errorf("times = %v / %v", got.CreatedAt, got.UpdatedAt)
	}

	hist, err := db.ListHistory(ctx, "42")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("history len = %d, want 2", len(hist))
	}
	if hist[1].OldStatus != "CONFIRMED" || hist[1].NewStatus != "CUTTING" {
		t.Errorf("history[1] = %+v", hist[1])
	}
}

func TestGetOrderNotFound(t *testing.T) {
	db := testDB(t)
	if _, err := db.GetOrder(context.Background(), "nope"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListOrdersAndCounts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, st := range []protocol.Stage{protocol.StagePending, protocol.StagePending, protocol.StageDelivered} {
		o := protocol.Order{ID: protocol.OrderID(string(rune('a' + i))), Status: st, UpdatedAt: base.Add(time.Duration(i) * time.Second)}
		if _, err := db.ApplyOrder(ctx, o, "test", ""); err != nil {
			t.Fatal(err)
		}
	}
	list, err := db.ListOrders(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 || list[0].ID != "c" {
		t.Errorf("list = %+v", list)
	}
	counts, err := db.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["PENDING"] != 2 || counts["DELIVERED"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestOutbox(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.EnqueueOutbox(ctx, "t1", []byte(`{"a":1}`), protocol.TypeStatusOverride); err != nil {
		t.Fatal(err)
	}
	if err := db.EnqueueOutbox(ctx, "t1", []byte(`{"a":2}`), protocol.TypeStatusOverride); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListPendingOutbox(ctx, 10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("pending = %d, want 2", len(msgs))
	}

	if err := db.AckOutbox(ctx, msgs[0].ID); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := db.IncrementOutboxRetries(ctx, msgs[1].ID); err != nil {
			t.Fatal(err)
		}
	}
	msgs, _ = db.ListPendingOutbox(ctx, 10, 3)
	if len(msgs) != 0 {
		t.Errorf("pending after ack and retries = %d, want 0", len(msgs))
	}
	n, _ := db.CountPendingOutbox(ctx)
	if n != 1 {
		t.Errorf("count pending = %d, want 1", n)
	}

	purged, err := db.PurgeSentOutbox(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
}

func TestAdminUsers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	if ok, _ := db.AdminUserExists(ctx); ok {
		t.Fatal("no admins expected")
	}
	if err := db.CreateAdminUser(ctx, "admin", "hash"); err != nil {
		t.Fatal(err)
	}
	u, err := db.GetAdminUser(ctx, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if u.PasswordHash != "hash" || u.CreatedAt.IsZero() {
		t.Errorf("user = %+v", u)
	}
	if _, err := db.GetAdminUser(ctx, "ghost"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSessionStore(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	p := db.Sessions("default")

	snap, err := p.LoadSession(ctx)
	if err != nil || snap.Token != "" {
		t.Fatalf("empty load = %+v, %v", snap, err)
	}

	s := session.New(p)
	s.SetAuth("tok", session.User{ID: "u1", Name: "Ana"})
	s.SetCurrentOrder("42")
	if err := s.Save(ctx); err != nil {
		t.Fatal(err)
	}
	s.SetCurrentOrder("43")
	if err := s.Save(ctx); err != nil {
		t.Fatal(err)
	}

	again := session.New(p)
	if err := again.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if again.Token() != "tok" || again.CurrentOrder() != "43" {
		t.Errorf("loaded = %+v", again.Snapshot())
	}

	if err := again.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	snap, _ = p.LoadSession(ctx)
	if snap.Token != "" {
		t.Error("session should be cleared")
	}
}

func TestRebind(t *testing.T) {
	got := Rebind(`SELECT * FROM t WHERE a=? AND b=?`)
	if got != `SELECT * FROM t WHERE a=$1 AND b=$2` {
		t.Errorf("Rebind = %q", got)
	}
}
