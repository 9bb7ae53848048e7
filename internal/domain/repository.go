package domain

// ProductRepository описывает требования к хранилищу товаров.
// Хранилище владеет выдачей идентификаторов: они положительные,
// монотонные и не переиспользуются.
type ProductRepository interface {
	// Create сохраняет новый товар и присваивает ему следующий ID.
	Create(product Product) (Product, error)
	// Get возвращает товар по идентификатору или ErrProductNotFound.
	Get(id int64) (Product, error)
	// ListByProducer возвращает товары владельца в порядке публикации.
	ListByProducer(producerID string) ([]Product, error)
	// Save применяет обновления к товару с учётом optimistic locking.
	Save(product Product) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ и присваивает ему следующий ID.
	Create(order Order) (Order, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(id int64) (Order, error)
	// ListByBuyer возвращает заказы покупателя в порядке создания.
	ListByBuyer(buyerID string, limit int) ([]Order, error)
	// ListBySeller возвращает заказы продавца в порядке создания.
	ListBySeller(sellerID string, limit int) ([]Order, error)
	// ListOpen возвращает заказы, по которым удерживается escrow
	// (используется для сверки custody-инварианта).
	ListOpen() ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}
