package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MiloszKom/EcommerceAPI-sub000/internal/domain"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/resilience"
)

func testCaller() *resilience.Caller {
	return resilience.NewCallerWithoutMetrics(resilience.Config{
		MaxAttempts:         3,
		InitialDelay:        time.Millisecond,
		MaxDelay:            5 * time.Millisecond,
		BackoffFactor:       2.0,
		BreakerInterval:     time.Minute,
		BreakerOpenTimeout:  time.Second,
		BreakerMinRequests:  100,
		BreakerFailureRatio: 0.5,
		HalfOpenProbes:      1,
	}, nil)
}

func TestCartClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/carts/user-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"user_id": "user-1",
			"items": []map[string]interface{}{
				{"product_id": "p1", "quantity": 2},
				{"product_id": "p2", "quantity": 1},
			},
		})
	}))
	defer srv.Close()

	client := NewCartClient(srv.URL, testCaller(), nil)
	snapshot, err := client.Fetch(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("fetch cart: %v", err)
	}

	if len(snapshot.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(snapshot.Items))
	}
	if snapshot.Items[0].ProductID != "p1" || snapshot.Items[0].Qty != 2 {
		t.Errorf("item 0 mismatch: %+v", snapshot.Items[0])
	}
}

func TestCartClient_FetchMissingCartIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewCartClient(srv.URL, testCaller(), nil)
	snapshot, err := client.Fetch(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("missing cart must not be an error: %v", err)
	}
	if len(snapshot.Items) != 0 {
		t.Errorf("expected empty snapshot, got %d items", len(snapshot.Items))
	}
}

func TestCartClient_FetchUnavailable(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewCartClient(srv.URL, testCaller(), nil)
	_, err := client.Fetch(context.Background(), "user-1")

	var unavailable *domain.RemoteUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected RemoteUnavailableError, got %v", err)
	}
	if unavailable.Dependency != DependencyCart {
		t.Errorf("expected dependency %q, got %q", DependencyCart, unavailable.Dependency)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestCartClient_HangingServerIsRetried(t *testing.T) {
	var mu sync.Mutex
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewCartClient(srv.URL, testCaller(), nil)
	// Таймаут одной попытки намного короче зависшего ответа.
	client.httpc = &http.Client{Timeout: 50 * time.Millisecond}

	_, err := client.Fetch(context.Background(), "user-1")

	var unavailable *domain.RemoteUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected RemoteUnavailableError, got %v", err)
	}
	if unavailable.Dependency != DependencyCart {
		t.Errorf("expected dependency %q, got %q", DependencyCart, unavailable.Dependency)
	}
	if got := domain.KindOf(err); got != domain.KindRemoteUnavailable {
		t.Errorf("expected kind %q, got %q", domain.KindRemoteUnavailable, got)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Errorf("hanging remote must be retried, got %d attempts", calls)
	}
}

func TestCartClient_ClearMissingCartOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewCartClient(srv.URL, testCaller(), nil)
	if err := client.Clear(context.Background(), "user-1"); err != nil {
		t.Fatalf("clear of missing cart must succeed: %v", err)
	}
}

func TestCatalogClient_FetchProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/products/p1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":              "p1",
			"name":            "Widget",
			"price_minor":     1000,
			"available_stock": 5,
		})
	}))
	defer srv.Close()

	client := NewCatalogClient(srv.URL, testCaller(), nil)
	product, err := client.FetchProduct(context.Background(), "p1")
	if err != nil {
		t.Fatalf("fetch product: %v", err)
	}

	if product.Name != "Widget" || product.PriceMinor != 1000 || product.Stock != 5 {
		t.Errorf("product snapshot mismatch: %+v", product)
	}
}

func TestCatalogClient_FetchProductNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewCatalogClient(srv.URL, testCaller(), nil)
	_, err := client.FetchProduct(context.Background(), "missing")
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestCatalogClient_ReserveConflictIsFinal(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		if r.URL.Path != "/api/products/p1/stock/reduce" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := NewCatalogClient(srv.URL, testCaller(), nil)
	err := client.Reserve(context.Background(), "p1", 2)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if calls != 1 {
		t.Errorf("authoritative 409 must not be retried, got %d calls", calls)
	}
}

func TestCatalogClient_IdempotencyKeyStableAcrossRetries(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		failing := len(keys) < 3
		mu.Unlock()
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewCatalogClient(srv.URL, testCaller(), nil)
	if err := client.Reserve(context.Background(), "p1", 1); err != nil {
		t.Fatalf("reserve after retries: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(keys))
	}
	if keys[0] == "" {
		t.Fatal("idempotency key must be set")
	}
	if keys[0] != keys[1] || keys[1] != keys[2] {
		t.Errorf("idempotency key must be stable across retries: %v", keys)
	}
}

func TestCatalogClient_ReleaseConflictSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/products/p1/stock/restore" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := NewCatalogClient(srv.URL, testCaller(), nil)
	err := client.Release(context.Background(), "p1", 1)
	if errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("release must not map 409 to insufficient stock: %v", err)
	}
	if err == nil {
		t.Fatal("expected error for conflicting release")
	}
}
