package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/MiloszKom/EcommerceAPI-sub000/internal/domain"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/resilience"
)

// DependencyCatalog — имя circuit breaker для сервиса каталога.
const DependencyCatalog = "catalog-service"

// idempotencyKeyHeader передаётся с каждой попыткой изменения остатков, чтобы
// повтор после потерянного ответа не списал сток дважды.
const idempotencyKeyHeader = "Idempotency-Key"

// CatalogClient — устойчивый HTTP-клиент каталога и его остатков.
type CatalogClient struct {
	baseURL string
	httpc   *http.Client
	caller  *resilience.Caller
	logger  *log.Entry
}

// NewCatalogClient создаёт клиент; baseURL без завершающего слэша.
func NewCatalogClient(baseURL string, caller *resilience.Caller, logger *log.Entry) *CatalogClient {
	if logger == nil {
		logger = log.New().WithField("component", "catalog-gateway")
	}
	return &CatalogClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   defaultHTTPClient(),
		caller:  caller,
		logger:  logger,
	}
}

type productPayload struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	PriceMinor     int64  `json:"price_minor"`
	AvailableStock int32  `json:"available_stock"`
}

type stockChangePayload struct {
	Quantity int32 `json:"quantity"`
}

// FetchProduct возвращает снимок товара или ErrProductNotFound.
func (c *CatalogClient) FetchProduct(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	var payload productPayload

	err := c.caller.Do(ctx, DependencyCatalog, func(ctx context.Context) error {
		callErr := doJSON(ctx, c.httpc, http.MethodGet, c.productURL(productID), nil, &payload, nil)
		if statusOf(callErr) == http.StatusNotFound {
			return domain.ErrProductNotFound
		}
		return callErr
	})
	if err != nil {
		return domain.ProductSnapshot{}, err
	}

	return domain.ProductSnapshot{
		ID:         payload.ID,
		Name:       payload.Name,
		PriceMinor: payload.PriceMinor,
		Stock:      payload.AvailableStock,
	}, nil
}

// Reserve уменьшает доступный остаток товара под заказ.
// 409 каталога — авторитетный отказ ErrInsufficientStock, он не ретраится.
func (c *CatalogClient) Reserve(ctx context.Context, productID string, qty int32) error {
	return c.stockCall(ctx, c.productURL(productID)+"/stock/reduce", qty, true)
}

// Release возвращает остаток товара на склад (компенсация).
func (c *CatalogClient) Release(ctx context.Context, productID string, qty int32) error {
	return c.stockCall(ctx, c.productURL(productID)+"/stock/restore", qty, false)
}

func (c *CatalogClient) stockCall(ctx context.Context, callURL string, qty int32, reserve bool) error {
	// Ключ стабилен в пределах логической попытки: HTTP-повторы после
	// потерянного ответа дедуплицируются каталогом.
	headers := map[string]string{idempotencyKeyHeader: uuid.NewString()}

	return c.caller.Do(ctx, DependencyCatalog, func(ctx context.Context) error {
		callErr := doJSON(ctx, c.httpc, http.MethodPut, callURL, stockChangePayload{Quantity: qty}, nil, headers)

		switch statusOf(callErr) {
		case http.StatusNotFound:
			return domain.ErrProductNotFound
		case http.StatusConflict:
			if reserve {
				return domain.ErrInsufficientStock
			}
		}
		return callErr
	})
}

func (c *CatalogClient) productURL(productID string) string {
	return c.baseURL + "/api/products/" + url.PathEscape(productID)
}

var _ domain.InventoryGateway = (*CatalogClient)(nil)
