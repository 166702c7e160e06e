package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/MiloszKom/EcommerceAPI-sub000/internal/domain"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/resilience"
)

// DependencyCart — имя circuit breaker для сервиса корзин.
const DependencyCart = "cart-service"

// CartClient — устойчивый HTTP-клиент сервиса корзин.
type CartClient struct {
	baseURL string
	httpc   *http.Client
	caller  *resilience.Caller
	logger  *log.Entry
}

// NewCartClient создаёт клиент; baseURL без завершающего слэша.
func NewCartClient(baseURL string, caller *resilience.Caller, logger *log.Entry) *CartClient {
	if logger == nil {
		logger = log.New().WithField("component", "cart-gateway")
	}
	return &CartClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   defaultHTTPClient(),
		caller:  caller,
		logger:  logger,
	}
}

type cartItemPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type cartPayload struct {
	UserID string            `json:"user_id"`
	Items  []cartItemPayload `json:"items"`
}

// Fetch возвращает снимок корзины пользователя.
// 404 от сервиса корзин означает, что корзина ещё не заводилась — снимок пуст.
func (c *CartClient) Fetch(ctx context.Context, userID string) (domain.CartSnapshot, error) {
	var payload cartPayload

	err := c.caller.Do(ctx, DependencyCart, func(ctx context.Context) error {
		callErr := doJSON(ctx, c.httpc, http.MethodGet, c.cartURL(userID), nil, &payload, nil)
		if statusOf(callErr) == http.StatusNotFound {
			payload = cartPayload{UserID: userID}
			return nil
		}
		return callErr
	})
	if err != nil {
		return domain.CartSnapshot{}, err
	}

	snapshot := domain.CartSnapshot{UserID: userID}
	for _, item := range payload.Items {
		snapshot.Items = append(snapshot.Items, domain.CartItem{
			ProductID: item.ProductID,
			Qty:       item.Quantity,
		})
	}
	return snapshot, nil
}

// Clear очищает корзину пользователя после успешного создания заказа.
func (c *CartClient) Clear(ctx context.Context, userID string) error {
	return c.caller.Do(ctx, DependencyCart, func(ctx context.Context) error {
		callErr := doJSON(ctx, c.httpc, http.MethodDelete, c.cartURL(userID), nil, nil, nil)
		// Уже пустая корзина — не ошибка очистки.
		if statusOf(callErr) == http.StatusNotFound {
			return nil
		}
		return callErr
	})
}

func (c *CartClient) cartURL(userID string) string {
	return c.baseURL + "/api/carts/" + url.PathEscape(userID)
}

var _ domain.CartGateway = (*CartClient)(nil)
