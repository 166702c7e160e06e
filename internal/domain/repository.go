package domain

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ атомарно вместе с позициями.
	// Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByOwner возвращает заказы владельца с опциональным ограничением на количество.
	ListByOwner(ownerID string, limit int) ([]Order, error)
	// ListAll возвращает все заказы (административная выборка).
	ListAll(limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking:
	// запись отклоняется с ErrOrderVersionConflict, если версия в хранилище изменилась.
	Save(order Order) error
}
