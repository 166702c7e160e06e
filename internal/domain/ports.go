package domain

import "context"

// CartItem — одна позиция в корзине пользователя.
type CartItem struct {
	ProductID string
	Qty       int32
}

// CartSnapshot — снимок корзины, принадлежащей сервису корзин.
// Ядро читает его и очищает корзину только после успешного создания заказа.
type CartSnapshot struct {
	UserID string
	Items  []CartItem
}

// ProductSnapshot — снимок товара из каталога на момент запроса.
type ProductSnapshot struct {
	ID         string
	Name       string
	PriceMinor int64
	Stock      int32
}

// CartGateway описывает взаимодействие с сервисом корзин.
type CartGateway interface {
	// Fetch возвращает снимок корзины пользователя.
	Fetch(ctx context.Context, userID string) (CartSnapshot, error)
	// Clear очищает корзину после успешного создания заказа.
	Clear(ctx context.Context, userID string) error
}

// InventoryGateway описывает взаимодействие с каталогом и его остатками.
type InventoryGateway interface {
	// FetchProduct возвращает снимок товара или ErrProductNotFound.
	FetchProduct(ctx context.Context, productID string) (ProductSnapshot, error)
	// Reserve уменьшает доступный остаток под заказ.
	// ErrInsufficientStock от каталога окончателен и не ретраится.
	Reserve(ctx context.Context, productID string, qty int32) error
	// Release возвращает остаток на склад (компенсация).
	Release(ctx context.Context, productID string, qty int32) error
}

// Principal — явная идентичность вызывающего, передаётся аргументом через все
// операции оркестратора. Никакого ambient/thread-local состояния.
type Principal struct {
	UserID string
	Admin  bool
}

// CanAccess проверяет правило владелец-или-администратор.
func (p Principal) CanAccess(ownerID string) bool {
	return p.Admin || (p.UserID != "" && p.UserID == ownerID)
}
