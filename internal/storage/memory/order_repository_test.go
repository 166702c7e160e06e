package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/MiloszKom/EcommerceAPI-sub000/internal/domain"
)

func testOrder(id, ownerID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:      id,
		OwnerID: ownerID,
		Status:  domain.OrderStatusPending,
		Lines: []domain.OrderLine{
			{ProductID: "p1", ProductName: "Widget", Qty: 1, PriceMinor: 1000},
		},
		TotalMinor: 1000,
		Version:    0,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	repo := NewOrderRepository()
	order := testOrder("order-1", "user-1", time.Now().UTC())

	if err := repo.Create(order); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OwnerID != "user-1" || got.TotalMinor != 1000 {
		t.Errorf("stored order mismatch: %+v", got)
	}

	if _, err := repo.Get("missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_CreateDuplicate(t *testing.T) {
	repo := NewOrderRepository()
	order := testOrder("order-1", "user-1", time.Now().UTC())

	if err := repo.Create(order); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected conflict for duplicate id, got %v", err)
	}
}

func TestOrderRepository_SaveVersionCheck(t *testing.T) {
	repo := NewOrderRepository()
	order := testOrder("order-1", "user-1", time.Now().UTC())
	if err := repo.Create(order); err != nil {
		t.Fatalf("create: %v", err)
	}

	order.Status = domain.OrderStatusPaid
	if err := repo.Save(order); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Повторная запись с устаревшей версией отклоняется.
	order.Status = domain.OrderStatusCancelled
	if err := repo.Save(order); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	got, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.OrderStatusPaid {
		t.Errorf("stale write must not apply, status=%s", got.Status)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
}

func TestOrderRepository_SaveMissing(t *testing.T) {
	repo := NewOrderRepository()
	if err := repo.Save(testOrder("missing", "user-1", time.Now().UTC())); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListByOwner(t *testing.T) {
	repo := NewOrderRepository()
	base := time.Now().UTC()

	for i, tc := range []struct {
		id    string
		owner string
	}{
		{"order-1", "user-1"},
		{"order-2", "user-2"},
		{"order-3", "user-1"},
	} {
		order := testOrder(tc.id, tc.owner, base.Add(time.Duration(i)*time.Second))
		if err := repo.Create(order); err != nil {
			t.Fatalf("create %s: %v", tc.id, err)
		}
	}

	list, err := repo.ListByOwner("user-1", 0)
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(list))
	}
	// Новейшие первыми.
	if list[0].ID != "order-3" || list[1].ID != "order-1" {
		t.Errorf("unexpected ordering: %s, %s", list[0].ID, list[1].ID)
	}

	limited, err := repo.ListByOwner("user-1", 1)
	if err != nil {
		t.Fatalf("list with limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "order-3" {
		t.Errorf("limit must keep newest, got %+v", limited)
	}
}

func TestOrderRepository_ListAll(t *testing.T) {
	repo := NewOrderRepository()
	base := time.Now().UTC()
	for i := 1; i <= 3; i++ {
		order := testOrder("order-"+string(rune('0'+i)), "user-1", base.Add(time.Duration(i)*time.Second))
		if err := repo.Create(order); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := repo.ListAll(0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(list))
	}
}

func TestOrderRepository_CloneIsolation(t *testing.T) {
	repo := NewOrderRepository()
	order := testOrder("order-1", "user-1", time.Now().UTC())
	if err := repo.Create(order); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Lines[0].Qty = 99

	again, err := repo.Get("order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.Lines[0].Qty != 1 {
		t.Errorf("stored lines must not be mutable from outside, qty=%d", again.Lines[0].Qty)
	}
}
